// Package session contains the per-tab engine that resolves the wallet
// identity, probes network capability, applies compensation and keeps the
// local progress cache reconciled with the remote store.
//
// All components share one SessionContext instead of ambient globals.
// Every call that can block takes a context.Context; page-scoped work is
// keyed to a Page token so results that arrive after navigation are dropped.
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/basecamp-labs/progress-hub/internal/domain/progress"
)

// ErrPageClosed is returned when a result arrives for a page that has
// already been torn down. The result is discarded.
var ErrPageClosed = errors.New("session: page closed")

// Page is one page load. Its context is canceled by EndPage.
type Page struct {
	Token  uuid.UUID
	ctx    context.Context
	cancel context.CancelFunc
}

// Context returns the page-scoped context.
func (p *Page) Context() context.Context {
	return p.ctx
}

// SessionContext is the state shared by all session components for one
// browser session.
type SessionContext struct {
	mu           sync.RWMutex
	identity     progress.Identity
	verdict      progress.Verdict
	compensation *progress.CompensationRecord
	page         uuid.UUID
}

// NewSessionContext returns an empty session.
func NewSessionContext() *SessionContext {
	return &SessionContext{verdict: progress.VerdictIndeterminate}
}

// Identity returns the resolved identity, if any.
func (s *SessionContext) Identity() (progress.Identity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity, !s.identity.IsZero()
}

func (s *SessionContext) setIdentity(id progress.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity != id {
		s.verdict = progress.VerdictIndeterminate
		s.compensation = nil
	}
	s.identity = id
}

// clearIdentity drops the identity and everything derived from it.
func (s *SessionContext) clearIdentity() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = ""
	s.verdict = progress.VerdictIndeterminate
	s.compensation = nil
}

// Verdict returns the memoized capability verdict. Only terminal verdicts
// are ever memoized.
func (s *SessionContext) Verdict() (progress.Verdict, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.verdict, s.verdict.Terminal()
}

func (s *SessionContext) setVerdict(v progress.Verdict) {
	if !v.Terminal() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdict = v
}

func (s *SessionContext) clearVerdict() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verdict = progress.VerdictIndeterminate
}

// Compensation returns the compensation record for the current identity.
func (s *SessionContext) Compensation() *progress.CompensationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.compensation
}

func (s *SessionContext) setCompensation(rec *progress.CompensationRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec != nil && rec.Identity != s.identity {
		return
	}
	s.compensation = rec
}

// BeginPage starts a page load and makes it the current page.
func (s *SessionContext) BeginPage(parent context.Context) *Page {
	ctx, cancel := context.WithCancel(parent)
	p := &Page{Token: uuid.New(), ctx: ctx, cancel: cancel}

	s.mu.Lock()
	s.page = p.Token
	s.mu.Unlock()
	return p
}

// EndPage invalidates the page token and cancels its context.
// Ending a page that is no longer current only cancels its context.
func (s *SessionContext) EndPage(p *Page) {
	if p == nil {
		return
	}
	s.mu.Lock()
	if s.page == p.Token {
		s.page = uuid.Nil
	}
	s.mu.Unlock()
	p.cancel()
}

// Current reports whether p is still the live page.
func (s *SessionContext) Current(p *Page) bool {
	if p == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.page != uuid.Nil && s.page == p.Token
}
