package goOTP

import (
	"math"
	"sort"
	"time"
)

// SecurityReport summarizes the engine's security posture without exposing
// key material.
type SecurityReport struct {
	SigningAlgorithm  string
	KeyID             string
	RetiredKeys       int
	PepperConfigured  bool
	ThrottlingActive  bool
	AuditEnabled      bool
	StoreTimeout      time.Duration
	DeliveryTimeout   time.Duration
	Purposes          []PurposeReport
	MissingFinalizers []Purpose
}

// PurposeReport describes one purpose's guessing exposure.
type PurposeReport struct {
	Purpose        Purpose
	CodeLength     int
	MaxAttempts    int
	ChallengeTTL   time.Duration
	TokenTTL       time.Duration
	RequirePayload bool
	// GuessProbability is the chance that an attacker who spends the whole
	// attempt budget on one challenge hits the code.
	GuessProbability float64
}

func (e *Engine) SecurityReport() SecurityReport {
	if e == nil {
		return SecurityReport{}
	}

	r := SecurityReport{
		SigningAlgorithm: e.config.Token.SigningMethod,
		KeyID:            e.config.Token.KeyID,
		PepperConfigured: len(e.config.Hashing.CodePepper) > 0,
		ThrottlingActive: e.limiter != nil,
		AuditEnabled:     e.config.Audit.Enabled,
		StoreTimeout:     e.config.Store.OperationTimeout,
		DeliveryTimeout:  e.config.Delivery.Timeout,
	}

	for kid := range e.config.Token.VerifyKeys {
		if kid != e.config.Token.KeyID {
			r.RetiredKeys++
		}
	}

	for purpose, p := range e.config.Purposes {
		r.Purposes = append(r.Purposes, PurposeReport{
			Purpose:          purpose,
			CodeLength:       p.CodeLength,
			MaxAttempts:      p.MaxAttempts,
			ChallengeTTL:     p.ChallengeTTL,
			TokenTTL:         p.TokenTTL,
			RequirePayload:   p.RequirePayload,
			GuessProbability: guessProbability(p.CodeLength, p.MaxAttempts),
		})
		if _, ok := e.finalizers[purpose]; !ok {
			r.MissingFinalizers = append(r.MissingFinalizers, purpose)
		}
	}
	sort.Slice(r.Purposes, func(i, j int) bool { return r.Purposes[i].Purpose < r.Purposes[j].Purpose })
	sort.Slice(r.MissingFinalizers, func(i, j int) bool { return r.MissingFinalizers[i] < r.MissingFinalizers[j] })

	return r
}

func guessProbability(codeLength, maxAttempts int) float64 {
	space := math.Pow10(codeLength)
	return math.Min(1, float64(maxAttempts)/space)
}
