package contract

import (
	"context"
	"time"
)

// MeteringPoint is an active metering point covered by an issuing contract.
type MeteringPoint struct {
	GSRN          string
	OwnerSubject  string
	ContractStart time.Time
}

// Source lists the metering points the synchronizer fans out over.
type Source interface {
	ListActive(ctx context.Context) ([]MeteringPoint, error)
}
