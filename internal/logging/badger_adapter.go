// RecordVault - Clinical Record Backup and Recovery Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/recordvault

package logging

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// BadgerLogger satisfies badger.Logger so the engine state store logs
// through zerolog. Badger's Info chatter is demoted to debug.
type BadgerLogger struct {
	logger zerolog.Logger
}

// NewBadgerLogger returns a badger logger tagged with component=state.
func NewBadgerLogger() *BadgerLogger {
	return &BadgerLogger{logger: WithComponent("state")}
}

func (b *BadgerLogger) Errorf(format string, args ...interface{}) {
	b.logger.Error().Msg(badgerMsg(format, args))
}

func (b *BadgerLogger) Warningf(format string, args ...interface{}) {
	b.logger.Warn().Msg(badgerMsg(format, args))
}

func (b *BadgerLogger) Infof(format string, args ...interface{}) {
	b.logger.Debug().Msg(badgerMsg(format, args))
}

func (b *BadgerLogger) Debugf(format string, args ...interface{}) {
	b.logger.Trace().Msg(badgerMsg(format, args))
}

// badgerMsg formats a badger log line without its trailing newline.
func badgerMsg(format string, args []interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
