package marketplace

import (
	"net/http"
	"strconv"
	"time"

	"builderbuddy-backend/core/marketplace"
)

type orderBody struct {
	CustomerID        string `json:"customer_id"`
	Title             string `json:"title"`
	Description       string `json:"description"`
	Category          uint8  `json:"category"`
	Locality          string `json:"locality"`
	Level             uint8  `json:"level"`
	Budget            uint64 `json:"budget"`
	ExpectedStartDate string `json:"expected_start_date"`
}

type assignBody struct {
	CustomerID   string `json:"customer_id"`
	ContractorID string `json:"contractor_id"`
}

type confirmBody struct {
	ContractorID string `json:"contractor_id"`
}

type cancelBody struct {
	CustomerID string `json:"customer_id"`
}

// parseStartDate accepts RFC3339 or unix seconds.
func parseStartDate(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, invalid("expected_start_date must be RFC3339 or unix seconds")
}

// /orders, /orders/{id}, /orders/{id}/{assign|confirm|cancel}
func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, apiPrefix+"/orders")
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		s.listOrders(w, r)
	case len(parts) == 0 && r.Method == http.MethodPost:
		s.createOrder(w, r)
	case len(parts) == 1 && r.Method == http.MethodGet:
		id, err := parseOrderID(parts[0])
		if err != nil {
			writeErr(w, err)
			return
		}
		order, err := s.svc.Engine.GetOrder(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, order)
	case len(parts) == 2 && r.Method == http.MethodPost:
		id, err := parseOrderID(parts[0])
		if err != nil {
			writeErr(w, err)
			return
		}
		s.orderAction(w, r, id, parts[1])
	case len(parts) <= 2:
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		Error(w, http.StatusNotFound, "not found")
	}
}

func (s *Server) listOrders(w http.ResponseWriter, r *http.Request) {
	var filter *marketplace.OrderStatus
	if raw := r.URL.Query().Get("status"); raw != "" {
		st, ok := parseOrderStatus(raw)
		if !ok {
			writeErr(w, invalid("unknown order status %q", raw))
			return
		}
		filter = &st
	}
	orders := s.svc.Engine.ListOrders(filter)
	JSON(w, http.StatusOK, map[string]interface{}{
		"orders":  orders,
		"total":   len(orders),
		"counter": s.svc.Engine.GetOrderCounter(),
	})
}

func parseOrderStatus(raw string) (marketplace.OrderStatus, bool) {
	for st := marketplace.OrderCreated; st <= marketplace.OrderFinished; st++ {
		if raw == st.String() || raw == strconv.Itoa(int(st)) {
			return st, true
		}
	}
	return 0, false
}

func (s *Server) createOrder(w http.ResponseWriter, r *http.Request) {
	var body orderBody
	if err := decodeBody(r, orderSchema, &body); err != nil {
		writeErr(w, err)
		return
	}
	start, err := parseStartDate(body.ExpectedStartDate)
	if err != nil {
		writeErr(w, err)
		return
	}
	order, err := s.svc.CreateOrder(caller(r), body.CustomerID, marketplace.OrderInput{
		Title:             body.Title,
		Description:       body.Description,
		Category:          marketplace.Category(body.Category),
		Locality:          body.Locality,
		Level:             body.Level,
		Budget:            body.Budget,
		ExpectedStartDate: start,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusCreated, order)
}

func (s *Server) orderAction(w http.ResponseWriter, r *http.Request, id uint64, action string) {
	c := caller(r)
	switch action {
	case "assign":
		var body assignBody
		if err := decodeBody(r, assignSchema, &body); err != nil {
			writeErr(w, err)
			return
		}
		order, err := s.svc.AssignContractor(c, body.CustomerID, id, body.ContractorID)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, order)
	case "confirm":
		var body confirmBody
		if err := decodeBody(r, confirmSchema, &body); err != nil {
			writeErr(w, err)
			return
		}
		view, err := s.svc.ConfirmOrder(c, body.ContractorID, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, view)
	case "cancel":
		var body cancelBody
		if err := decodeBody(r, cancelSchema, &body); err != nil {
			writeErr(w, err)
			return
		}
		order, err := s.svc.CancelOrder(c, body.CustomerID, id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, order)
	default:
		Error(w, http.StatusNotFound, "not found")
	}
}

type taskBody struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Cost        uint64 `json:"cost"`
}

type ratingBody struct {
	Rating uint8 `json:"rating"`
}

// /escrows/{orderID}[/tasks|/tasks/{i}|/approve|/avail|/finish-task|/reject|/finish-work|/funding-qr]
func (s *Server) handleEscrows(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, apiPrefix+"/escrows")
	if len(parts) == 0 || len(parts) > 3 {
		Error(w, http.StatusNotFound, "not found")
		return
	}
	id, err := parseOrderID(parts[0])
	if err != nil {
		writeErr(w, err)
		return
	}
	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			Error(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		view, err := s.svc.Escrow(id)
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, view)
		return
	}

	action := parts[1]
	if r.Method == http.MethodGet {
		switch {
		case action == "tasks" && len(parts) == 2:
			s.listTasks(w, id)
		case action == "tasks" && len(parts) == 3:
			s.getTask(w, id, parts[2])
		case action == "funding-qr" && len(parts) == 2:
			s.fundingQR(w, r, id)
		default:
			Error(w, http.StatusNotFound, "not found")
		}
		return
	}
	if r.Method != http.MethodPost || len(parts) != 2 {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	c := caller(r)
	var task marketplace.Task
	switch action {
	case "tasks":
		var body taskBody
		if err = decodeBody(r, taskSchema, &body); err != nil {
			break
		}
		task, err = s.svc.AddTask(c, id, body.Title, body.Description, body.Cost)
		if err == nil {
			JSON(w, http.StatusCreated, task)
			return
		}
	case "approve":
		task, err = s.svc.ApproveTask(c, id)
	case "avail":
		task, err = s.svc.AvailCost(r.Context(), c, id)
	case "finish-task":
		var body ratingBody
		if err = decodeBody(r, ratingSchema, &body); err != nil {
			break
		}
		task, err = s.svc.FinishTask(c, id, body.Rating)
	case "reject":
		task, err = s.svc.RejectTask(c, id)
	case "finish-work":
		rating, ferr := s.svc.FinishWork(c, id)
		if ferr != nil {
			writeErr(w, ferr)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"order_id": id, "rating": rating})
		return
	default:
		Error(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, task)
}

func (s *Server) listTasks(w http.ResponseWriter, id uint64) {
	view, err := s.svc.Escrow(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"tasks":          view.Tasks,
		"rejected_tasks": view.RejectedTasks,
		"task_version":   view.TaskVersion,
	})
}

// getTask uses 1-based indices like the escrow accessors.
func (s *Server) getTask(w http.ResponseWriter, id uint64, raw string) {
	i, err := strconv.Atoi(raw)
	if err != nil {
		writeErr(w, invalid("task index %q", raw))
		return
	}
	esc, err := s.svc.Engine.GetTaskContract(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	task, err := esc.GetTask(i)
	if err != nil {
		writeErr(w, err)
		return
	}
	JSON(w, http.StatusOK, task)
}

func (s *Server) fundingQR(w http.ResponseWriter, r *http.Request, id uint64) {
	amount, ok, err := uint64FromQuery(r, "amount")
	if err != nil {
		writeErr(w, err)
		return
	}
	if !ok {
		writeErr(w, invalid("amount is required"))
		return
	}
	png, err := s.svc.FundingQR(id, amount)
	if err != nil {
		writeErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(png)
}

type approveBody struct {
	Spender string `json:"spender"`
	Amount  uint64 `json:"amount"`
}

type transferBody struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// /token, /token/balances/{address}, /token/{approve|transfer|mint}
func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	parts := pathParts(r.URL.Path, apiPrefix+"/token")
	tok := s.svc.Token
	if r.Method == http.MethodGet {
		switch {
		case len(parts) == 0:
			JSON(w, http.StatusOK, map[string]interface{}{
				"address":      tok.Address(),
				"symbol":       tok.Symbol(),
				"decimals":     tok.Decimals(),
				"total_supply": tok.TotalSupply(),
			})
		case len(parts) == 2 && parts[0] == "balances":
			addr := marketplace.Address(parts[1])
			JSON(w, http.StatusOK, map[string]interface{}{
				"address":               addr,
				"balance":               tok.BalanceOf(addr),
				"marketplace_allowance": tok.Allowance(addr, s.svc.Engine.Address()),
			})
		default:
			Error(w, http.StatusNotFound, "not found")
		}
		return
	}
	if r.Method != http.MethodPost || len(parts) != 1 {
		Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	c := caller(r)
	switch parts[0] {
	case "approve":
		var body approveBody
		if err := decodeBody(r, approveSchema, &body); err != nil {
			writeErr(w, err)
			return
		}
		spender := marketplace.Address(body.Spender)
		if err := s.svc.Approve(r.Context(), c, spender, body.Amount); err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"owner": c, "spender": spender, "allowance": tok.Allowance(c, spender)})
	case "transfer", "mint":
		var body transferBody
		if err := decodeBody(r, transferSchema, &body); err != nil {
			writeErr(w, err)
			return
		}
		to := marketplace.Address(body.To)
		var err error
		if parts[0] == "mint" {
			err = s.svc.Mint(r.Context(), c, to, body.Amount)
		} else {
			err = s.svc.Transfer(r.Context(), c, to, body.Amount)
		}
		if err != nil {
			writeErr(w, err)
			return
		}
		JSON(w, http.StatusOK, map[string]interface{}{"to": to, "balance": tok.BalanceOf(to)})
	default:
		Error(w, http.StatusNotFound, "not found")
	}
}
