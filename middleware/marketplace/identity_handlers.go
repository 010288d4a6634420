package marketplace

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"builderbuddy-backend/core/marketplace"
)

type registerBody struct {
	UserID string          `json:"user_id"`
	Role   json.RawMessage `json:"role"`
	Name   string          `json:"name"`
}

func parseRole(raw json.RawMessage) (marketplace.Role, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return marketplace.ParseRole(strconv.Itoa(n))
	}
	var str string
	if err := json.Unmarshal(raw, &str); err != nil {
		return 0, invalid("role must be a number or a name")
	}
	return marketplace.ParseRole(str)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body registerBody
	if err := decodeBody(r, registerSchema, &body); err != nil {
		writeErr(w, err)
		return
	}
	role, err := parseRole(body.Role)
	if err != nil {
		writeErr(w, err)
		return
	}
	id, err := s.svc.Register(r.Context(), caller(r), body.UserID, role, body.Name)
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusAccepted, map[string]interface{}{
		"request_id": id,
		"user_id":    body.UserID,
		"role":       role.String(),
	})
}

type fulfillBody struct {
	RequestID string `json:"request_id"`
	Score     uint64 `json:"score"`
}

// handleOracleFulfill accepts manual oracle responses. Only a key bound to
// the oracle address gets past the registry check.
func (s *Server) handleOracleFulfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body fulfillBody
	if err := decodeBody(r, fulfillSchema, &body); err != nil {
		writeErr(w, err)
		return
	}
	if err := s.svc.OracleFulfill(caller(r), body.RequestID, body.Score); err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]string{"status": "fulfilled", "request_id": body.RequestID})
}

func (s *Server) handleRegistrations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := pathParts(r.URL.Path, apiPrefix+"/registrations")
	if len(parts) != 1 {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	p, err := s.svc.Registry.GetPendingRegistration(parts[0])
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, p)
}

// /customers/{id} and /customers/{id}/orders
func (s *Server) handleCustomers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := pathParts(r.URL.Path, apiPrefix+"/customers")
	switch {
	case len(parts) == 1:
		rec, err := s.svc.Registry.GetCustomerInfo(parts[0])
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"user_id": parts[0], "customer": rec})
	case len(parts) == 2 && parts[1] == "orders":
		orders := s.svc.Engine.GetAllCustomerOrders(parts[0])
		JSON(w, http.StatusOK, map[string]interface{}{"orders": orders, "total": len(orders)})
	default:
		Error(w, http.StatusNotFound, "not found")
	}
}

type levelBody struct {
	Level uint8 `json:"level"`
}

// /contractors/{id}, /contractors/{id}/stake, /contractors/{id}/withdraw
func (s *Server) handleContractors(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, apiPrefix+"/contractors")
	if len(parts) == 0 || len(parts) > 2 {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	id := parts[0]
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			Error(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		rec, err := s.svc.Registry.GetContractorInfo(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{
			"user_id":            id,
			"contractor":         rec,
			"max_eligible_level": s.svc.Engine.GetMaxEligibleLevelByScore(rec.Score),
		})
		return
	}

	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var body levelBody
	if err := decodeBody(r, levelSchema, &body); err != nil {
		writeErr(w, err)
		return
	}
	var (
		rec marketplace.ContractorRecord
		err error
	)
	switch parts[1] {
	case "stake":
		rec, err = s.svc.Stake(r.Context(), caller(r), id, body.Level)
	case "withdraw":
		rec, err = s.svc.Withdraw(r.Context(), caller(r), id, body.Level)
	default:
		Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{"user_id": id, "contractor": rec})
}

type levelView struct {
	Level              uint8  `json:"level"`
	RequiredCollateral uint64 `json:"required_collateral"`
	MinimumScore       uint64 `json:"minimum_score"`
}

// /levels and /levels/eligible?score=
func (s *Server) handleLevels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	parts := pathParts(r.URL.Path, apiPrefix+"/levels")
	switch {
	case len(parts) == 0:
		tiers := s.svc.Engine.LevelTable().Tiers()
		out := make([]levelView, 0, len(tiers))
		for i, t := range tiers {
			out = append(out, levelView{Level: uint8(i + 1), RequiredCollateral: t.RequiredCollateral, MinimumScore: t.MinimumScore})
		}
		JSON(w, http.StatusOK, map[string]interface{}{"levels": out, "decimals": s.svc.Token.Decimals()})
	case len(parts) == 1 && parts[0] == "eligible":
		score, ok, err := uint64FromQuery(r, "score")
		if err != nil {
			writeErr(w, err)
			return
		}
		if !ok {
			writeErr(w, invalid("score is required"))
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{
			"score": score,
			"level": s.svc.Engine.GetMaxEligibleLevelByScore(score),
		})
	default:
		Error(w, http.StatusNotFound, "not found")
	}
}

type adminBody struct {
	SubscriptionID *uint64 `json:"subscription_id"`
	GasLimit       *uint32 `json:"gas_limit"`
	Secrets        *string `json:"secrets"` // base64
}

// handleAdmin applies owner-only oracle settings: POST /admin/oracle.
func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if strings.Trim(strings.TrimPrefix(r.URL.Path, apiPrefix+"/admin"), "/") != "oracle" {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	var body adminBody
	if err := decodeBody(r, adminSchema, &body); err != nil {
		writeErr(w, err)
		return
	}
	c := caller(r)
	if body.Secrets != nil {
		secrets, err := base64.StdEncoding.DecodeString(*body.Secrets)
		if err != nil {
			writeErr(w, invalid("secrets must be base64"))
			return
		}
		if err := s.svc.SetOracleSecrets(c, secrets); err != nil {
			writeErr(w, err)
			return
		}
	}
	if body.SubscriptionID != nil {
		if err := s.svc.SetSubscriptionID(c, *body.SubscriptionID); err != nil {
			writeErr(w, err)
			return
		}
	}
	if body.GasLimit != nil {
		if err := s.svc.SetGasLimit(c, *body.GasLimit); err != nil {
			writeErr(w, err)
			return
		}
	}
	JSON(w, http.StatusOK, s.svc.Registry.Config())
}
