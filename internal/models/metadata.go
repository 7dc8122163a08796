package models

import (
	"errors"
	"fmt"
	"strings"
)

// Checkout session metadata keys
const (
	MetaTenantID        = "tenant_id"
	MetaActorID         = "actor_id"
	MetaDiscountPercent = "discount_percent"
	MetaTaxRatePercent  = "tax_rate_percent"
	MetaSubtotal        = "subtotal"
	MetaDiscount        = "discount"
	MetaTax             = "tax"
	MetaGrandTotal      = "grand_total"
	MetaPlatformFee     = "platform_fee"
)

var (
	// ErrMissingTenant is returned when session metadata carries no tenant id
	ErrMissingTenant = errors.New("metadata: tenant_id is required")
	// ErrMissingSession is returned when the session reference is empty
	ErrMissingSession = errors.New("metadata: session id is required")
)

// SessionMetadata is the tagged structure attached to a checkout session.
// TenantID and SessionID are required; Audit keeps the remaining figures
// as opaque decimal strings.
type SessionMetadata struct {
	TenantID  string
	SessionID string
	ActorID   string
	Audit     map[string]string
}

// ToMap renders metadata for the processor. SessionID is not included
// because the processor assigns it.
func (m SessionMetadata) ToMap() map[string]string {
	out := make(map[string]string, len(m.Audit)+2)
	for k, v := range m.Audit {
		out[k] = v
	}
	out[MetaTenantID] = m.TenantID
	delete(out, MetaActorID)
	if m.ActorID != "" {
		out[MetaActorID] = m.ActorID
	}
	return out
}

// ParseSessionMetadata validates the required fields at the boundary
func ParseSessionMetadata(sessionID string, raw map[string]string) (*SessionMetadata, error) {
	tenantID := strings.TrimSpace(raw[MetaTenantID])
	if tenantID == "" {
		return nil, ErrMissingTenant
	}
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("tenant %s: %w", tenantID, ErrMissingSession)
	}

	audit := make(map[string]string, len(raw))
	for k, v := range raw {
		if k == MetaTenantID || k == MetaActorID {
			continue
		}
		audit[k] = v
	}

	return &SessionMetadata{
		TenantID:  tenantID,
		SessionID: sessionID,
		ActorID:   strings.TrimSpace(raw[MetaActorID]),
		Audit:     audit,
	}, nil
}
