package federate

import (
	"context"

	"github.com/signalsfoundry/rti/internal/logging"
	"github.com/signalsfoundry/rti/message"
	"github.com/signalsfoundry/rti/model"
	"github.com/signalsfoundry/rti/timectrl"
)

type regulationState uint8

const (
	regulationOff regulationState = iota
	regulationPending
	regulationOn
)

type constrainedState uint8

const (
	constrainedOff constrainedState = iota
	constrainedPending
	constrainedOn
)

type advanceMode uint8

const (
	advanceNone advanceMode = iota
	advanceTime
	advanceTimeAvailable
	advanceNextMessage
	advanceNextMessageAvailable
)

func (m advanceMode) available() bool {
	return m == advanceTimeAvailable || m == advanceNextMessageAvailable
}

func (m advanceMode) nextMessage() bool {
	return m == advanceNextMessage || m == advanceNextMessageAvailable
}

// bound is a committed lower bound on future timestamps. A strict bound
// also excludes the bound itself.
type bound[T any] struct {
	time   T
	strict bool
}

type timeState[T timectrl.Time[T, I], I timectrl.Interval[I]] struct {
	logical     T
	lookahead   I
	regulation  regulationState
	constrained constrainedState
	mode        advanceMode
	requested   T

	// commit is the bound last announced while regulating.
	commit bound[T]
	// grantStrict is set after a TAR or NMR grant with zero lookahead,
	// when the granted time itself may no longer be sent.
	grantStrict bool

	serial   uint32
	awaiting map[model.FederateHandle]struct{}
	floor    T

	peers map[model.FederateHandle]bound[T]
	tso   *tsoQueue[T]
}

func newTimeState[T timectrl.Time[T, I], I timectrl.Interval[I]](factory timectrl.Factory[T, I]) timeState[T, I] {
	return timeState[T, I]{
		logical:   factory.Initial(),
		lookahead: factory.Zero(),
		awaiting:  make(map[model.FederateHandle]struct{}),
		peers:     make(map[model.FederateHandle]bound[T]),
		tso:       newTSOQueue(func(a, b T) int { return a.Compare(b) }),
	}
}

// EnableTimeRegulation asks every other federate for its time. Regulation
// completes with a TimeRegulationEnabled callback once all answered.
func (f *Federate[T, I]) EnableTimeRegulation(lookahead I) error {
	if err := f.active(); err != nil {
		return err
	}
	tm := &f.tm
	switch tm.regulation {
	case regulationOn:
		return model.Errorf(model.TimeRegulationAlreadyEnabled, "federate %q", f.name)
	case regulationPending:
		return model.Errorf(model.RequestForTimeRegulationPending, "federate %q", f.name)
	}
	if tm.mode != advanceNone {
		return model.Errorf(model.InTimeAdvancingState, "advance to %s pending", tm.requested)
	}
	if !lookahead.Valid() || lookahead.Negative() {
		return model.Errorf(model.InvalidLookahead, "lookahead %s", lookahead)
	}

	tm.lookahead = lookahead
	tm.serial++
	tm.floor = tm.logical
	clear(tm.awaiting)
	for h := range f.federates {
		tm.awaiting[h] = struct{}{}
	}
	tm.commit = bound[T]{time: tm.logical.Add(lookahead)}
	tm.grantStrict = false
	if err := f.send(&message.EnableTimeRegulationRequest{
		Header: f.header(),
		Commit: tm.commit.time.Encode(),
		Serial: tm.serial,
	}); err != nil {
		return err
	}
	tm.regulation = regulationPending
	f.checkRegulation()
	return nil
}

// DisableTimeRegulation stops constraining other federates.
func (f *Federate[T, I]) DisableTimeRegulation() error {
	if err := f.active(); err != nil {
		return err
	}
	switch f.tm.regulation {
	case regulationOff:
		return model.Errorf(model.TimeRegulationIsNotEnabled, "federate %q", f.name)
	case regulationPending:
		return model.Errorf(model.RequestForTimeRegulationPending, "federate %q", f.name)
	}
	if f.tm.mode != advanceNone {
		return model.Errorf(model.InTimeAdvancingState, "advance to %s pending", f.tm.requested)
	}
	if err := f.send(&message.DisableTimeRegulationRequest{Header: f.header()}); err != nil {
		return err
	}
	f.tm.regulation = regulationOff
	return nil
}

// EnableTimeConstrained makes the federate wait for regulating federates.
// It completes with a TimeConstrainedEnabled callback once GALT reaches
// the federate's logical time.
func (f *Federate[T, I]) EnableTimeConstrained() error {
	if err := f.active(); err != nil {
		return err
	}
	switch f.tm.constrained {
	case constrainedOn:
		return model.Errorf(model.TimeConstrainedAlreadyEnabled, "federate %q", f.name)
	case constrainedPending:
		return model.Errorf(model.RequestForTimeConstrainedPending, "federate %q", f.name)
	}
	if f.tm.mode != advanceNone {
		return model.Errorf(model.InTimeAdvancingState, "advance to %s pending", f.tm.requested)
	}
	f.tm.constrained = constrainedPending
	f.progress()
	return nil
}

// DisableTimeConstrained delivers every queued timestamp ordered message
// at once.
func (f *Federate[T, I]) DisableTimeConstrained() error {
	if err := f.active(); err != nil {
		return err
	}
	switch f.tm.constrained {
	case constrainedOff:
		return model.Errorf(model.TimeConstrainedIsNotEnabled, "federate %q", f.name)
	case constrainedPending:
		return model.Errorf(model.RequestForTimeConstrainedPending, "federate %q", f.name)
	}
	f.tm.constrained = constrainedOff
	for _, item := range f.tm.tso.drain() {
		item.deliver()
	}
	f.progress()
	return nil
}

// TimeAdvanceRequest asks for a grant to t once no message earlier than
// or at t can still arrive.
func (f *Federate[T, I]) TimeAdvanceRequest(t T) error {
	return f.requestAdvance(t, advanceTime)
}

// TimeAdvanceRequestAvailable is TimeAdvanceRequest that also accepts
// messages at exactly t after the grant.
func (f *Federate[T, I]) TimeAdvanceRequestAvailable(t T) error {
	return f.requestAdvance(t, advanceTimeAvailable)
}

// NextMessageRequest advances to the earlier of t and the next timestamp
// ordered message.
func (f *Federate[T, I]) NextMessageRequest(t T) error {
	return f.requestAdvance(t, advanceNextMessage)
}

// NextMessageRequestAvailable is the non-strict form of NextMessageRequest.
func (f *Federate[T, I]) NextMessageRequestAvailable(t T) error {
	return f.requestAdvance(t, advanceNextMessageAvailable)
}

func (f *Federate[T, I]) requestAdvance(t T, mode advanceMode) error {
	if err := f.active(); err != nil {
		return err
	}
	tm := &f.tm
	if tm.mode != advanceNone {
		return model.Errorf(model.InTimeAdvancingState, "advance to %s pending", tm.requested)
	}
	if tm.regulation == regulationPending {
		return model.Errorf(model.RequestForTimeRegulationPending, "federate %q", f.name)
	}
	if tm.constrained == constrainedPending {
		return model.Errorf(model.RequestForTimeConstrainedPending, "federate %q", f.name)
	}
	if !t.Valid() {
		return model.Errorf(model.InvalidLogicalTime, "time %s", t)
	}
	c := t.Compare(tm.logical)
	if c < 0 || (c == 0 && !mode.available()) {
		return model.Errorf(model.LogicalTimeAlreadyPassed, "requested %s, logical time %s", t, tm.logical)
	}

	tm.mode = mode
	tm.requested = t
	if tm.regulation == regulationOn {
		if mode.nextMessage() {
			f.commitNextMessage()
		} else {
			f.publish(bound[T]{time: t.Add(tm.lookahead), strict: !mode.available() && tm.lookahead.IsZero()})
		}
	}
	f.checkAdvance()
	return nil
}

// ModifyLookahead changes the lookahead of a regulating federate. A smaller
// lookahead only takes effect as the federate advances.
func (f *Federate[T, I]) ModifyLookahead(lookahead I) error {
	if err := f.active(); err != nil {
		return err
	}
	tm := &f.tm
	if tm.regulation != regulationOn {
		return model.Errorf(model.TimeRegulationIsNotEnabled, "federate %q", f.name)
	}
	if tm.mode != advanceNone {
		return model.Errorf(model.InTimeAdvancingState, "advance to %s pending", tm.requested)
	}
	if !lookahead.Valid() || lookahead.Negative() {
		return model.Errorf(model.InvalidLookahead, "lookahead %s", lookahead)
	}
	tm.lookahead = lookahead
	f.publish(bound[T]{time: tm.logical.Add(lookahead), strict: tm.grantStrict && lookahead.IsZero()})
	return nil
}

// QueryLogicalTime returns the last granted time.
func (f *Federate[T, I]) QueryLogicalTime() T { return f.tm.logical }

// QueryLookahead returns the lookahead of a regulating federate.
func (f *Federate[T, I]) QueryLookahead() (I, error) {
	if f.tm.regulation != regulationOn {
		var zero I
		return zero, model.Errorf(model.TimeRegulationIsNotEnabled, "federate %q", f.name)
	}
	return f.tm.lookahead, nil
}

// QueryGALT returns the greatest time this federate could be granted. The
// boolean is false when no other federate is regulating.
func (f *Federate[T, I]) QueryGALT() (T, bool) {
	g, ok := f.galt()
	return g.time, ok
}

// QueryLITS returns the least timestamp of any message that may still be
// delivered: the earlier of GALT and the first queued message.
func (f *Federate[T, I]) QueryLITS() (T, bool) {
	g, ok := f.galt()
	e, queued := f.tm.tso.peek()
	switch {
	case ok && queued:
		return timectrl.Min[T, I](g.time, e), true
	case ok:
		return g.time, true
	default:
		return e, queued
	}
}

// IsTimeRegulating reports whether regulation is enabled.
func (f *Federate[T, I]) IsTimeRegulating() bool { return f.tm.regulation == regulationOn }

// IsTimeConstrained reports whether constrained is enabled.
func (f *Federate[T, I]) IsTimeConstrained() bool { return f.tm.constrained == constrainedOn }

// galt is the least bound committed by another regulating federate.
func (f *Federate[T, I]) galt() (bound[T], bool) {
	var g bound[T]
	found := false
	for _, b := range f.tm.peers {
		switch {
		case !found || b.time.Compare(g.time) < 0:
			g, found = b, true
		case b.time.Compare(g.time) == 0:
			g.strict = g.strict && b.strict
		}
	}
	return g, found
}

// grantable reports whether no message at or before target can still
// arrive, or none before target when available is set.
func (f *Federate[T, I]) grantable(target T, available bool) bool {
	if f.tm.constrained != constrainedOn {
		return true
	}
	g, ok := f.galt()
	if !ok {
		return true
	}
	c := target.Compare(g.time)
	if available {
		return c <= 0
	}
	return c < 0 || (c == 0 && g.strict)
}

// publish announces b when it raises the committed bound.
func (f *Federate[T, I]) publish(b bound[T]) {
	tm := &f.tm
	c := b.time.Compare(tm.commit.time)
	if c < 0 || (c == 0 && (tm.commit.strict || !b.strict)) {
		return
	}
	tm.commit = b
	f.sendCommit()
}

func (f *Federate[T, I]) sendCommit() {
	tm := &f.tm
	tm.serial++
	if err := f.send(&message.CommitLowerBoundTimeStamp{
		Header: f.header(),
		Commit: tm.commit.time.Encode(),
		Strict: tm.commit.strict,
		Serial: tm.serial,
	}); err != nil {
		f.log.Warn(context.Background(), "commit not sent", logging.Err(err))
	}
}

// commitNextMessage raises the bound of a pending next message request
// as far as GALT and the queue allow.
func (f *Federate[T, I]) commitNextMessage() {
	tm := &f.tm
	if tm.regulation != regulationOn || !tm.mode.nextMessage() {
		return
	}
	t := tm.requested
	if e, ok := tm.tso.peek(); ok && tm.constrained == constrainedOn {
		t = timectrl.Min[T, I](t, e)
	}
	if g, ok := f.galt(); ok && tm.constrained == constrainedOn {
		t = timectrl.Min[T, I](t, g.time)
	}
	f.publish(bound[T]{time: t.Add(tm.lookahead), strict: !tm.mode.available() && tm.lookahead.IsZero()})
}

// progress re-evaluates pending constrained and advance requests after
// anything that moves GALT or the queue.
func (f *Federate[T, I]) progress() {
	f.checkConstrained()
	f.checkAdvance()
}

func (f *Federate[T, I]) checkRegulation() {
	tm := &f.tm
	if tm.regulation != regulationPending || len(tm.awaiting) > 0 {
		return
	}
	tm.regulation = regulationOn
	tm.logical = timectrl.Max[T, I](tm.logical, tm.floor)
	f.publish(bound[T]{time: tm.logical.Add(tm.lookahead)})
	f.log.Debug(context.Background(), "time regulation enabled", logging.String("time", tm.logical.String()))
	if cb := f.cb.TimeRegulationEnabled; cb != nil {
		t := tm.logical
		f.calls.push(func() { cb(t) })
	}
}

func (f *Federate[T, I]) checkConstrained() {
	tm := &f.tm
	if tm.constrained != constrainedPending {
		return
	}
	if g, ok := f.galt(); ok && tm.logical.Compare(g.time) > 0 {
		return
	}
	tm.constrained = constrainedOn
	f.log.Debug(context.Background(), "time constrained enabled", logging.String("time", tm.logical.String()))
	if cb := f.cb.TimeConstrainedEnabled; cb != nil {
		t := tm.logical
		f.calls.push(func() { cb(t) })
	}
}

// checkAdvance grants a pending advance once GALT permits it, delivering
// every queued message up to the granted time first.
func (f *Federate[T, I]) checkAdvance() {
	tm := &f.tm
	if tm.mode == advanceNone {
		return
	}
	target := tm.requested
	if tm.mode.nextMessage() && tm.constrained == constrainedOn {
		if e, ok := tm.tso.peek(); ok {
			target = timectrl.Min[T, I](target, e)
		}
	}
	if !f.grantable(target, tm.mode.available()) {
		f.commitNextMessage()
		return
	}
	for {
		item, ok := tm.tso.popThrough(target)
		if !ok {
			break
		}
		item.deliver()
	}
	tm.logical = timectrl.Max[T, I](tm.logical, target)
	tm.grantStrict = !tm.mode.available() && tm.lookahead.IsZero()
	tm.mode = advanceNone
	if tm.regulation == regulationOn {
		f.publish(bound[T]{time: tm.logical.Add(tm.lookahead), strict: tm.grantStrict})
	}
	f.log.Debug(context.Background(), "time advance granted", logging.String("time", tm.logical.String()))
	if cb := f.cb.TimeAdvanceGrant; cb != nil {
		t := tm.logical
		f.calls.push(func() { cb(t) })
	}
}

func (f *Federate[T, I]) onRegulationRequest(m *message.EnableTimeRegulationRequest) {
	if m.Federate == f.handle {
		return
	}
	t, err := f.factory.DecodeTime(m.Commit)
	if err != nil {
		f.log.Warn(context.Background(), "undecodable regulation request",
			logging.Uint64("from", uint64(m.Federate)), logging.Err(err))
		return
	}
	f.tm.peers[m.Federate] = bound[T]{time: t}
	if err := f.send(&message.EnableTimeRegulationResponse{
		Header:      f.header(),
		Target:      message.Target{To: m.Federate},
		Time:        f.tm.logical.Encode(),
		Constrained: f.tm.constrained == constrainedOn,
		Serial:      m.Serial,
	}); err != nil {
		f.log.Warn(context.Background(), "regulation response not sent", logging.Err(err))
	}
	f.progress()
}

func (f *Federate[T, I]) onRegulationResponse(m *message.EnableTimeRegulationResponse) {
	tm := &f.tm
	if tm.regulation != regulationPending || m.Serial != tm.serial {
		return
	}
	if m.Constrained {
		t, err := f.factory.DecodeTime(m.Time)
		if err != nil {
			f.log.Warn(context.Background(), "undecodable regulation response",
				logging.Uint64("from", uint64(m.Federate)), logging.Err(err))
		} else {
			tm.floor = timectrl.Max[T, I](tm.floor, t)
		}
	}
	delete(tm.awaiting, m.Federate)
	f.checkRegulation()
}

func (f *Federate[T, I]) onCommit(m *message.CommitLowerBoundTimeStamp) {
	if m.Federate == f.handle {
		return
	}
	t, err := f.factory.DecodeTime(m.Commit)
	if err != nil {
		f.log.Warn(context.Background(), "undecodable commit",
			logging.Uint64("from", uint64(m.Federate)), logging.Err(err))
		return
	}
	f.tm.peers[m.Federate] = bound[T]{time: t, strict: m.Strict}
	f.progress()
}

// stamp validates the timestamp of an outgoing message and picks its
// order. Only regulating federates send timestamp ordered.
func (f *Federate[T, I]) stamp(t T) ([]byte, model.OrderType, error) {
	if !t.Valid() {
		return nil, 0, model.Errorf(model.InvalidLogicalTime, "time %s", t)
	}
	tm := &f.tm
	if tm.regulation != regulationOn {
		return t.Encode(), model.ReceiveOrder, nil
	}
	c := t.Compare(tm.commit.time)
	if c < 0 || (c == 0 && tm.commit.strict) {
		return nil, 0, model.Errorf(model.InvalidLogicalTime, "timestamp %s below committed bound %s", t, tm.commit.time)
	}
	return t.Encode(), model.TimestampOrder, nil
}

// schedule delivers a received message now or, when it is timestamp
// ordered and the federate constrained, at the grant that covers it.
func (f *Federate[T, I]) schedule(timestamp []byte, order model.OrderType, deliver func(t T, order model.OrderType, timestamped bool)) {
	var zero T
	if len(timestamp) == 0 {
		deliver(zero, model.ReceiveOrder, false)
		return
	}
	t, err := f.factory.DecodeTime(timestamp)
	if err != nil {
		f.log.Warn(context.Background(), "undecodable timestamp", logging.Err(err))
		deliver(zero, model.ReceiveOrder, false)
		return
	}
	if order != model.TimestampOrder || f.tm.constrained != constrainedOn {
		deliver(t, model.ReceiveOrder, true)
		return
	}
	f.tm.tso.push(t, func() { deliver(t, model.TimestampOrder, true) })
	f.checkAdvance()
}

// timeSnapshot is the time state a federate keeps per save label.
type timeSnapshot[T any, I any] struct {
	logical     T
	lookahead   I
	regulating  bool
	constrained bool
}

func (f *Federate[T, I]) snapshotTime() timeSnapshot[T, I] {
	return timeSnapshot[T, I]{
		logical:     f.tm.logical,
		lookahead:   f.tm.lookahead,
		regulating:  f.tm.regulation == regulationOn,
		constrained: f.tm.constrained == constrainedOn,
	}
}

// restoreTime resets the time state to a snapshot and re-announces the
// commit, which may move backwards.
func (f *Federate[T, I]) restoreTime(s timeSnapshot[T, I]) {
	tm := &f.tm
	tm.logical = s.logical
	tm.lookahead = s.lookahead
	tm.mode = advanceNone
	tm.grantStrict = false
	tm.tso.drain()
	tm.constrained = constrainedOff
	if s.constrained {
		tm.constrained = constrainedOn
	}
	wasRegulating := tm.regulation == regulationOn
	tm.regulation = regulationOff
	if s.regulating {
		tm.regulation = regulationOn
		tm.commit = bound[T]{time: s.logical.Add(s.lookahead)}
		f.sendCommit()
	} else if wasRegulating {
		if err := f.send(&message.DisableTimeRegulationRequest{Header: f.header()}); err != nil {
			f.log.Warn(context.Background(), "regulation not withdrawn", logging.Err(err))
		}
	}
}
