package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidCost is returned when the cost text is not a non-negative decimal number.
var ErrInvalidCost = errors.New("invalid cost")

// PatientVisit 一条已保存的就诊记录（patients 表的一行）
type PatientVisit struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Date    string  `json:"date"`
	Service string  `json:"service"`
	Cost    float64 `json:"cost"`
	Paid    string  `json:"paid"`
}

// VisitFields are the operator supplied columns of a visit. The store assigns the ID.
type VisitFields struct {
	Name    string  `json:"name"`
	Date    string  `json:"date"`
	Service string  `json:"service"`
	Cost    float64 `json:"cost"`
	Paid    string  `json:"paid"`
}

// VisitDraft holds the values collected so far in an add-patient flow.
// Cost is kept as typed until the record is committed.
type VisitDraft struct {
	Name    string `json:"name,omitempty"`
	Date    string `json:"date,omitempty"`
	Service string `json:"service,omitempty"`
	Cost    string `json:"cost,omitempty"`
	Paid    string `json:"paid,omitempty"`
}

// Complete reports whether every field of the draft is filled in.
func (d VisitDraft) Complete() bool {
	return d.Name != "" && d.Date != "" && d.Service != "" && d.Cost != "" && d.Paid != ""
}

// Fields converts a complete draft into the values handed to the store.
func (d VisitDraft) Fields() (VisitFields, error) {
	if !d.Complete() {
		return VisitFields{}, errors.New("visit draft is incomplete")
	}
	cost, err := ParseCost(d.Cost)
	if err != nil {
		return VisitFields{}, err
	}
	return VisitFields{
		Name:    d.Name,
		Date:    d.Date,
		Service: d.Service,
		Cost:    cost,
		Paid:    d.Paid,
	}, nil
}

// ParseCost accepts "50", "50.5", "50,5" and surrounding spaces.
func ParseCost(s string) (float64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" {
		return 0, ErrInvalidCost
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCost, s)
	}
	if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidCost, s)
	}
	return v, nil
}

// WithID returns the persisted form of the fields.
func (f VisitFields) WithID(id int64) PatientVisit {
	return PatientVisit{
		ID:      id,
		Name:    f.Name,
		Date:    f.Date,
		Service: f.Service,
		Cost:    f.Cost,
		Paid:    f.Paid,
	}
}
