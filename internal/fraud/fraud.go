// Package fraud runs the periodic detection sweep over tracking data and
// manages the resulting flag lifecycle. Flags are amendable records layered
// over immutable events: the sweep escalates an open flag of the same type
// and campaign instead of duplicating it, and flags stay open until an admin
// resolves them.
package fraud

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound         = errors.New("fraud flag not found")
	ErrAlreadyProcessed = errors.New("fraud flag already resolved")
	ErrInvalidStatus    = errors.New("invalid fraud flag status")
)

// FlagType identifies which heuristic raised a flag.
type FlagType string

const (
	TypeClickAnomaly       FlagType = "CLICK_ANOMALY"
	TypeIPAbuse            FlagType = "IP_ABUSE"
	TypeViewSpike          FlagType = "VIEW_SPIKE"
	TypeConversionMismatch FlagType = "CONVERSION_MISMATCH"
	TypeBotDetected        FlagType = "BOT_DETECTED"
)

// Status is the flag lifecycle. CONFIRMED and DISMISSED are terminal.
type Status string

const (
	StatusDetected      Status = "DETECTED"
	StatusInvestigating Status = "INVESTIGATING"
	StatusConfirmed     Status = "CONFIRMED"
	StatusDismissed     Status = "DISMISSED"
)

// IsTerminal reports whether the status admits no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusConfirmed || s == StatusDismissed
}

// Sweep thresholds. Severity scales within each heuristic's ladder.
const (
	ClickAnomalyThreshold  = 50  // clicks per link per hour
	IPAbuseThreshold       = 20  // clicks per IP per link per hour
	ViewSpikeThresholdPct  = 500 // growth over previous snapshot
	MismatchThresholdPct   = 30  // conversions per clean click
	MismatchMinConversions = 10
	BotRatioMinClicks      = 10 // hourly clicks before the ratio applies
	BotRatioThresholdPct   = 50
)

// Evidence is a tagged union: exactly one field is non-nil, matching the
// flag's type.
type Evidence struct {
	ClickAnomaly       *ClickAnomalyEvidence       `json:"clickAnomaly,omitempty"`
	IPAbuse            *IPAbuseEvidence            `json:"ipAbuse,omitempty"`
	ViewSpike          *ViewSpikeEvidence          `json:"viewSpike,omitempty"`
	ConversionMismatch *ConversionMismatchEvidence `json:"conversionMismatch,omitempty"`
	BotRatio           *BotRatioEvidence           `json:"botRatio,omitempty"`
}

type ClickAnomalyEvidence struct {
	LinkID      string `json:"linkId"`
	ClicksLastH int64  `json:"clicksLastHour"`
}

type IPAbuseEvidence struct {
	LinkID      string `json:"linkId"`
	IP          string `json:"ip"`
	ClicksLastH int64  `json:"clicksLastHour"`
}

type ViewSpikeEvidence struct {
	Platform  string `json:"platform"`
	PrevViews int64  `json:"prevViews"`
	NewViews  int64  `json:"newViews"`
	GrowthPct int64  `json:"growthPct"`
}

type ConversionMismatchEvidence struct {
	Clicks      int64 `json:"clicks"`
	Conversions int64 `json:"conversions"`
	RatioPct    int64 `json:"ratioPct"`
}

type BotRatioEvidence struct {
	LinkID      string `json:"linkId"`
	ClicksLastH int64  `json:"clicksLastHour"`
	FraudPct    int64  `json:"fraudPct"`
}

// Flag is one detection finding against a campaign, optionally pinned to a
// creator.
type Flag struct {
	ID             string     `json:"id"`
	Type           FlagType   `json:"type"`
	Severity       int        `json:"severity"` // 1..5
	Status         Status     `json:"status"`
	CampaignID     string     `json:"campaignId"`
	CreatorID      string     `json:"creatorId,omitempty"`
	Evidence       Evidence   `json:"evidence"`
	ResolvedBy     string     `json:"resolvedBy,omitempty"`
	ResolutionNote string     `json:"resolutionNote,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
	ResolvedAt     *time.Time `json:"resolvedAt,omitempty"`
}

// Open reports whether the flag is still actionable by the sweep.
func (f *Flag) Open() bool { return !f.Status.IsTerminal() }

// Store persists flags.
type Store interface {
	Create(ctx context.Context, f *Flag) error
	Get(ctx context.Context, id string) (*Flag, error)
	Update(ctx context.Context, f *Flag) error
	// FindOpen returns the open (non-terminal) flag of the given type for a
	// campaign, or nil when none exists.
	FindOpen(ctx context.Context, t FlagType, campaignID string) (*Flag, error)
	List(ctx context.Context, status Status, limit int, afterID string) ([]*Flag, error)
}
