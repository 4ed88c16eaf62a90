package handlers

import (
	"github.com/feichai0017/receipt-processor/pkg/logger"
)

type Handlers struct {
	Receipt *ReceiptHandler
	Health  *HealthHandler
}

func NewHandlers(
	receipts ReceiptService,
	checks []Check,
	logger logger.Logger,
) *Handlers {
	return &Handlers{
		Receipt: NewReceiptHandler(receipts, logger),
		Health:  NewHealthHandler(checks, logger),
	}
}
