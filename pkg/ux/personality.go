// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ux

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
)

// StyleEnv selects the personality level when --style is not given.
const StyleEnv = "LSEVAL_STYLE"

// PersonalityLevel defines the verbosity and richness of CLI output
type PersonalityLevel string

const (
	// PersonalityFull adds the banner and the detailed result table
	PersonalityFull PersonalityLevel = "full"

	// PersonalityStandard enables colors, icons and boxes
	PersonalityStandard PersonalityLevel = "standard"

	// PersonalityMinimal uses icons and basic formatting only
	PersonalityMinimal PersonalityLevel = "minimal"

	// PersonalityMachine outputs plain key=value lines suitable for scripting
	PersonalityMachine PersonalityLevel = "machine"
)

// Personality holds the current UX personality configuration
type Personality struct {
	// Level controls overall verbosity (full, standard, minimal, machine)
	Level PersonalityLevel

	// ShowReportPaths lists every generated file in the final summary
	ShowReportPaths bool
}

var (
	currentPersonality = DefaultPersonality()
	personalityMu      sync.RWMutex
)

// GetPersonality returns the current personality settings
func GetPersonality() Personality {
	personalityMu.RLock()
	defer personalityMu.RUnlock()
	return currentPersonality
}

// SetPersonality updates the current personality settings
func SetPersonality(p Personality) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality = p
}

// SetPersonalityLevel updates just the personality level
func SetPersonalityLevel(level PersonalityLevel) {
	personalityMu.Lock()
	defer personalityMu.Unlock()
	currentPersonality.Level = level
}

// ParsePersonalityLevel converts a --style value to a PersonalityLevel.
// Unknown values return PersonalityStandard and an error.
func ParsePersonalityLevel(s string) (PersonalityLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "full", "f":
		return PersonalityFull, nil
	case "standard", "std", "s":
		return PersonalityStandard, nil
	case "minimal", "min", "m":
		return PersonalityMinimal, nil
	case "machine", "quiet", "q":
		return PersonalityMachine, nil
	default:
		return PersonalityStandard, fmt.Errorf("unknown style %q (use full, standard, minimal or machine)", s)
	}
}

// InitPersonality selects the personality level.
//
// Description:
//
//	Precedence: the explicit flag value, then LSEVAL_STYLE, then machine
//	output when stdout is not a terminal, then full.
//
// Inputs:
//
//	flag - Value of --style. Empty when not given.
//
// Outputs:
//
//	error - Non-nil if flag holds an unknown style.
func InitPersonality(flag string) error {
	if flag != "" {
		level, err := ParsePersonalityLevel(flag)
		if err != nil {
			return err
		}
		SetPersonalityLevel(level)
		return nil
	}

	if envLevel := os.Getenv(StyleEnv); envLevel != "" {
		if level, err := ParsePersonalityLevel(envLevel); err == nil {
			SetPersonalityLevel(level)
			return nil
		}
	}

	if !isTerminal() {
		SetPersonalityLevel(PersonalityMachine)
		return nil
	}

	SetPersonalityLevel(PersonalityFull)
	return nil
}

// isTerminal checks if stdout is a terminal
func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// DefaultPersonality returns the default personality settings
func DefaultPersonality() Personality {
	return Personality{
		Level:           PersonalityFull,
		ShowReportPaths: true,
	}
}
