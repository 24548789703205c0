package uav

import (
	"context"
	"fmt"

	"flightworks/gcs/internal/commands"
	"flightworks/gcs/internal/model"
	"flightworks/gcs/pkg/logging"
)

const errNotSupported = "Operation not supported"

// TransportOptions selects how a signal command reaches the vehicles:
// over the driver's broadcast medium, or over a specific secondary
// channel.
type TransportOptions struct {
	Broadcast bool `json:"broadcast,omitempty"`
	Channel   int  `json:"channel,omitempty"`
}

// ParseTransportOptions extracts the transport option object from a
// request body, if present.
func ParseTransportOptions(body model.Body) *TransportOptions {
	raw, ok := body["transport"].(map[string]any)
	if !ok {
		return nil
	}
	opts := &TransportOptions{}
	if b, ok := raw["broadcast"].(bool); ok {
		opts.Broadcast = b
	}
	if ch, ok := raw["channel"].(float64); ok {
		opts.Channel = int(ch)
	}
	return opts
}

// Outcome collects the per-target results of one dispatched command.
// A target appears in exactly one of Success, Errors, Results or
// Receipts.
type Outcome struct {
	Success  []string
	Errors   map[string]string
	Results  map[string]any
	Receipts map[string]*commands.Receipt
}

func newOutcome() *Outcome {
	return &Outcome{
		Errors:   make(map[string]string),
		Results:  make(map[string]any),
		Receipts: make(map[string]*commands.Receipt),
	}
}

// Body renders the outcome as the partial-success response body of a
// multi-target command. Empty sections are omitted.
func (o *Outcome) Body() model.Body {
	body := model.Body{}
	if len(o.Success) > 0 {
		body["success"] = o.Success
	}
	if len(o.Errors) > 0 {
		body["error"] = o.Errors
	}
	if len(o.Results) > 0 {
		body["result"] = o.Results
	}
	if len(o.Receipts) > 0 {
		receipts := make(map[string]string, len(o.Receipts))
		for id, r := range o.Receipts {
			receipts[id] = r.ID()
		}
		body["receipt"] = receipts
	}
	return body
}

func (o *Outcome) record(uavID string, value any, err error) {
	if err != nil {
		o.Errors[uavID] = err.Error()
		return
	}
	switch v := value.(type) {
	case nil, bool:
		o.Success = append(o.Success, uavID)
	case *commands.Receipt:
		o.Receipts[uavID] = v
	default:
		o.Results[uavID] = v
	}
}

// Dispatcher fans multi-target commands out to drivers and collects
// per-target outcomes. Asynchronous results are turned into receipts on
// the command manager.
type Dispatcher struct {
	logger  logging.Logger
	drivers *DriverRegistry
	manager *commands.Manager
}

// NewDispatcher creates a dispatcher over the driver registry and the
// command manager.
func NewDispatcher(logger logging.Logger, drivers *DriverRegistry, manager *commands.Manager) *Dispatcher {
	return &Dispatcher{logger: logger, drivers: drivers, manager: manager}
}

// Dispatch runs one command against a list of target UAVs on behalf of
// a client. Targets are grouped by driver; each group is resolved to
// the most specific handler the driver registered.
func (d *Dispatcher) Dispatch(ctx context.Context, uavs []*model.UAV, cmd string, body model.Body, clientID string) *Outcome {
	outcome := newOutcome()

	groups := make(map[string][]*model.UAV)
	order := make([]string, 0, 4)
	for _, u := range uavs {
		name := u.DriverName()
		if _, seen := groups[name]; !seen {
			order = append(order, name)
		}
		groups[name] = append(groups[name], u)
	}

	for _, name := range order {
		group := groups[name]
		driver, err := d.drivers.FindByID(name)
		if err != nil {
			d.failGroup(outcome, group, fmt.Sprintf("no driver registered for %q", name))
			continue
		}
		d.dispatchGroup(ctx, driver, group, cmd, body, clientID, outcome)
	}
	return outcome
}

func (d *Dispatcher) dispatchGroup(ctx context.Context, driver *Driver, group []*model.UAV, cmd string, body model.Body, clientID string, outcome *Outcome) {
	if opts := ParseTransportOptions(body); opts != nil && opts.Broadcast {
		if fn := driver.broadcastHandler(cmd); fn != nil {
			err := fn(ctx, body)
			for _, u := range group {
				outcome.record(u.ObjectID(), nil, err)
			}
			return
		}
		// No broadcast variant; fall through to the per-target path.
	}

	multi, single, genericMulti, generic := driver.resolve(cmd)

	switch {
	case multi != nil:
		d.applyMulti(outcome, group, clientID, func() (any, error) {
			return multi(ctx, group, body)
		})
	case single != nil:
		for _, u := range group {
			d.applySingle(outcome, u, clientID, func() (any, error) {
				return single(ctx, u, body)
			})
		}
	case genericMulti != nil:
		d.applyMulti(outcome, group, clientID, func() (any, error) {
			return genericMulti(ctx, group, cmd, body)
		})
	case generic != nil:
		for _, u := range group {
			d.applySingle(outcome, u, clientID, func() (any, error) {
				return generic(ctx, u, cmd, body)
			})
		}
	default:
		d.failGroup(outcome, group, errNotSupported)
	}
}

// applySingle runs one per-UAV invocation. A commands.Command result
// converts to a receipt bound to the requesting client.
func (d *Dispatcher) applySingle(outcome *Outcome, u *model.UAV, clientID string, invoke func() (any, error)) {
	value, err := d.protect(u.ObjectID(), invoke)
	if err != nil {
		outcome.record(u.ObjectID(), nil, err)
		return
	}
	if cmd, ok := asCommand(value); ok {
		outcome.record(u.ObjectID(), d.manager.New(cmd, clientID), nil)
		return
	}
	outcome.record(u.ObjectID(), value, nil)
}

// applyMulti runs one group invocation and fans the result back out: a
// map keys per-UAV outcomes, anything else is broadcast to every target
// in the group.
func (d *Dispatcher) applyMulti(outcome *Outcome, group []*model.UAV, clientID string, invoke func() (any, error)) {
	value, err := d.protect("*", invoke)
	if err != nil {
		for _, u := range group {
			outcome.record(u.ObjectID(), nil, err)
		}
		return
	}

	if perUAV, ok := value.(map[string]any); ok {
		for _, u := range group {
			id := u.ObjectID()
			v, present := perUAV[id]
			if !present {
				outcome.Errors[id] = "driver returned no outcome for target"
				continue
			}
			if e, isErr := v.(error); isErr {
				outcome.record(id, nil, e)
				continue
			}
			if cmd, isCmd := asCommand(v); isCmd {
				outcome.record(id, d.manager.New(cmd, clientID), nil)
				continue
			}
			outcome.record(id, v, nil)
		}
		return
	}

	if cmd, ok := asCommand(value); ok {
		for _, u := range group {
			outcome.record(u.ObjectID(), d.manager.New(cmd, clientID), nil)
		}
		return
	}

	for _, u := range group {
		outcome.record(u.ObjectID(), value, nil)
	}
}

func (d *Dispatcher) failGroup(outcome *Outcome, group []*model.UAV, reason string) {
	for _, u := range group {
		outcome.Errors[u.ObjectID()] = reason
	}
}

// protect converts driver panics into per-target errors so one broken
// driver cannot take the dispatcher down.
func (d *Dispatcher) protect(target string, invoke func() (any, error)) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.WithFields(logging.Fields{
				"target": target,
				"panic":  r,
			}).Error("Driver handler panicked")
			err = fmt.Errorf("internal error: %v", r)
		}
	}()
	return invoke()
}

func asCommand(value any) (commands.Command, bool) {
	switch v := value.(type) {
	case commands.Command:
		return v, true
	case func(ctx context.Context, rep *commands.Reporter) (any, error):
		return v, true
	default:
		return nil, false
	}
}
