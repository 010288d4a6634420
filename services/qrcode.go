package services

import (
	"bytes"
	"fmt"
	"image/png"

	"github.com/skip2/go-qrcode"

	"builderbuddy-backend/core/marketplace"
)

// QRCodeService renders escrow funding requests as QR codes.
type QRCodeService struct {
	size int
}

// NewQRCodeService creates a new QR code service
func NewQRCodeService() *QRCodeService {
	return &QRCodeService{size: 256}
}

// FundingURI is an EIP-681 style token transfer request to the escrow.
func FundingURI(token, escrow marketplace.Address, amount uint64) string {
	return fmt.Sprintf("ethereum:%s/transfer?address=%s&uint256=%d", token, escrow, amount)
}

// GenerateFundingQR returns a PNG asking the payer to send amount of token
// to escrow.
func (s *QRCodeService) GenerateFundingQR(token, escrow marketplace.Address, amount uint64) ([]byte, error) {
	if escrow == "" || amount == 0 {
		return nil, fmt.Errorf("funding qr: %w", marketplace.ErrInvalidInput)
	}
	qr, err := qrcode.New(FundingURI(token, escrow, amount), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}

	buf := new(bytes.Buffer)
	if err := png.Encode(buf, qr.Image(s.size)); err != nil {
		return nil, fmt.Errorf("failed to encode QR code to PNG: %w", err)
	}
	return buf.Bytes(), nil
}
