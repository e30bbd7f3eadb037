// Package view holds the explicit screen-state container. All transitions go
// through guarded constructors so invalid combinations, such as an analysis
// screen with no selected contract, cannot be represented.
package view

import (
	"errors"
	"fmt"
)

// Screen identifies which screen is active.
type Screen string

const (
	ScreenAuth      Screen = "auth"
	ScreenDashboard Screen = "dashboard"
	ScreenUpload    Screen = "upload"
	ScreenAnalysis  Screen = "analysis"
	ScreenProfile   Screen = "profile"
	ScreenCompare   Screen = "compare"
)

var validScreens = map[Screen]bool{
	ScreenAuth:      true,
	ScreenDashboard: true,
	ScreenUpload:    true,
	ScreenAnalysis:  true,
	ScreenProfile:   true,
	ScreenCompare:   true,
}

var (
	ErrNoContractSelected = errors.New("analysis screen requires a selected contract")
	ErrBadComparisonSet   = errors.New("compare screen requires 2 or 3 contracts")
)

// State is the complete view state. Zero value is the auth screen.
type State struct {
	Screen             Screen   `json:"screen"`
	SelectedContractID string   `json:"selectedContractId,omitempty"`
	ComparisonSet      []string `json:"comparisonSet,omitempty"`
}

// Transition describes a requested state change.
type Transition struct {
	Screen             Screen   `json:"screen"`
	SelectedContractID string   `json:"selectedContractId,omitempty"`
	ComparisonSet      []string `json:"comparisonSet,omitempty"`
}

// Initial returns the starting state.
func Initial() State {
	return State{Screen: ScreenAuth}
}

// Apply is the single dispatcher for view transitions. On error the previous
// state is returned unchanged.
func Apply(current State, t Transition) (State, error) {
	if !validScreens[t.Screen] {
		return current, fmt.Errorf("unknown screen %q", t.Screen)
	}

	switch t.Screen {
	case ScreenAnalysis:
		if t.SelectedContractID == "" {
			return current, ErrNoContractSelected
		}
		return State{Screen: ScreenAnalysis, SelectedContractID: t.SelectedContractID}, nil

	case ScreenCompare:
		if len(t.ComparisonSet) < 2 || len(t.ComparisonSet) > 3 {
			return current, ErrBadComparisonSet
		}
		set := make([]string, len(t.ComparisonSet))
		copy(set, t.ComparisonSet)
		return State{Screen: ScreenCompare, ComparisonSet: set}, nil

	default:
		// Plain screens carry no selection; stale selections are dropped so
		// the state never pairs a screen with data it does not use.
		return State{Screen: t.Screen}, nil
	}
}
