// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package lifecycle

import (
	"context"
	"errors"

	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/workerplane/pkg/metrics"
)

// State is the lifecycle state of one service name.
type State string

const (
	StateAbsent   State = "absent"
	StateDefining State = "defining"
	StateActive   State = "active"
	StateInactive State = "inactive"
	StateFailed   State = "failed"
)

const (
	EventDefine     = "define"
	EventActivate   = "activate"
	EventDeactivate = "deactivate"
	EventFail       = "fail"
	EventRemove     = "remove"
)

// AllStates lists every state, in the order the metrics gauge reports them.
var AllStates = []string{
	string(StateAbsent),
	string(StateDefining),
	string(StateActive),
	string(StateInactive),
	string(StateFailed),
}

var definedStates = []string{
	string(StateDefining),
	string(StateActive),
	string(StateInactive),
	string(StateFailed),
}

// Every state can be re-entered so re-driven operations converge. A service
// must be defined before it can run; there is no paused state, stop leaves a
// service inactive but defined.
var transitions = fsm.Events{
	{Name: EventDefine, Src: AllStates, Dst: string(StateDefining)},
	{Name: EventActivate, Src: definedStates, Dst: string(StateActive)},
	{Name: EventDeactivate, Src: definedStates, Dst: string(StateInactive)},
	{Name: EventFail, Src: definedStates, Dst: string(StateFailed)},
	{Name: EventRemove, Src: AllStates, Dst: string(StateAbsent)},
}

// machine tracks the state of one service across a single operation.
type machine struct {
	name string
	fsm  *fsm.FSM
}

func newMachine(name string, initial State, log *zap.SugaredLogger) *machine {
	return &machine{
		name: name,
		fsm: fsm.NewFSM(string(initial), transitions, fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				log.Debugf("%s: %s -> %s (%s)", name, e.Src, e.Dst, e.Event)
			},
		}),
	}
}

// fire applies event. Re-entering the current state is not an error.
func (m *machine) fire(ctx context.Context, event string) error {
	err := m.fsm.Event(ctx, event)

	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}

	return err
}

// settle fires the event matching the observed outcome of an activation.
func (m *machine) settle(ctx context.Context, startFailed, active bool) error {
	switch {
	case active:
		return m.fire(ctx, EventActivate)
	case startFailed:
		return m.fire(ctx, EventFail)
	default:
		return m.fire(ctx, EventDeactivate)
	}
}

func (m *machine) current() State {
	return State(m.fsm.Current())
}

// publish exports the current state to the metrics gauge.
func (m *machine) publish() {
	if m.current() == StateAbsent {
		metrics.ForgetService(m.name)

		return
	}

	metrics.SetServiceState(m.name, m.fsm.Current(), AllStates)
}
