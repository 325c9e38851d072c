/*
Copyright 2026 Warpgate Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package auth implements the Authentication Pipeline: a protocol-agnostic
// state machine that resolves a username hint to a User, verifies whatever
// credential proofs are submitted against that user's per-protocol policy,
// and reports success only once every required credential kind has been
// satisfied.
package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

var log = logrus.WithFields(logrus.Fields{trace.Component: "auth"})

// Config wires a Pipeline's dependencies and tunables.
type Config struct {
	Services          services.Services
	Clock             clockwork.Clock
	Backoff           BackoffConfig
	HashConcurrency   int64
	AttemptTTL        time.Duration
	Approvals         *ApprovalRegistry
}

func (c *Config) CheckAndSetDefaults() error {
	if c.Services == nil {
		return trace.BadParameter("auth: missing Services")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.HashConcurrency <= 0 {
		c.HashConcurrency = 4
	}
	if c.AttemptTTL <= 0 {
		c.AttemptTTL = 10 * time.Minute
	}
	if c.Approvals == nil {
		c.Approvals = NewApprovalRegistry()
	}
	return trace.Wrap(c.Backoff.CheckAndSetDefaults())
}

// Pipeline is the Authentication Pipeline described by spec.md section 4.1:
// begin(user_hint, protocol) -> AuthAttempt, then submit(proof) repeatedly
// until the attempt succeeds, is rejected, or needs another factor.
type Pipeline struct {
	cfg      Config
	services services.Services
	clock    clockwork.Clock
	workers  *hashWorkerPool
	backoff  *backoffTracker
	approvals *ApprovalRegistry
}

// New builds a ready Pipeline.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	backoff, err := newBackoffTracker(cfg.Backoff, cfg.Clock)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Pipeline{
		cfg:       cfg,
		services:  cfg.Services,
		clock:     cfg.Clock,
		workers:   newHashWorkerPool(cfg.HashConcurrency),
		backoff:   backoff,
		approvals: cfg.Approvals,
	}, nil
}

// Approvals exposes the shared ApprovalRegistry so a protocol core's
// out-of-band admin surface (e.g. webproxy's approve/reject endpoints) can
// resolve a pending web-approval wait without reaching into Pipeline internals.
func (p *Pipeline) Approvals() *ApprovalRegistry {
	return p.approvals
}

// Result is returned from Begin and Submit, mirroring the
// need_more/success/reject contract of spec.md section 4.1.
type Result struct {
	Attempt *types.AuthAttempt
	// NeedMore, when non-empty, lists credential kinds still unsatisfied.
	NeedMore []types.CredentialKind
	Success  bool
	User     *types.User
	// Reason is set on rejection, for logging; it is deliberately not
	// surfaced verbatim to clients (spec.md section 7, AuthError handling).
	Reason string
}

// Begin resolves userHint to a User (or leaves it unresolved, to be masked
// as enumeration-proof later) and opens a new AuthAttempt for protocol.
func (p *Pipeline) Begin(ctx context.Context, userHint string, protocol types.Protocol, remoteAddr string) (*Result, error) {
	if blocked, _ := p.backoff.ipBlocked(remoteAddr); blocked {
		p.backoff.noteBlockedAttempt(remoteAddr)
		_, until := p.backoff.ipBlocked(remoteAddr)
		return &Result{Reason: "ip-blocked"}, trace.AccessDenied("remote address blocked until %s", until.Format(time.RFC3339))
	}

	user, err := p.services.GetUserByName(ctx, userHint)
	if err != nil && !trace.IsNotFound(err) {
		return nil, trace.Wrap(err)
	}
	if user != nil {
		if locked, until := p.backoff.userLocked(user.ID); locked {
			return &Result{Reason: "user-locked"}, trace.AccessDenied("user locked until %s", until.Format(time.RFC3339))
		}
		if user.Disabled {
			return &Result{Reason: "user-disabled"}, trace.AccessDenied("authentication rejected")
		}
	}

	attempt := &types.AuthAttempt{
		ID:         uuid.NewString(),
		Protocol:   protocol,
		RemoteAddr: remoteAddr,
		Username:   userHint,
		State:      types.AuthStatePending,
		StartedAt:  p.clock.Now(),
	}
	if user != nil {
		attempt.UserID = user.ID
	}
	attempt.IdentificationString = identificationString(attempt.ID)

	if err := p.services.CreateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Result{Attempt: attempt, User: user, NeedMore: user.PolicyFor(protocol)}, nil
}

// SubmitPassword verifies a password proof for attempt, advancing its
// state and persisting the updated attempt.
func (p *Pipeline) SubmitPassword(ctx context.Context, attempt *types.AuthAttempt, password string) (*Result, error) {
	user, err := p.resolvedUser(ctx, attempt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ok, err := p.verifyPassword(ctx, user, password)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p.recordFactorResult(ctx, attempt, user, types.CredentialPassword, ok)
}

// SubmitPublicKey marks the public-key factor satisfied iff keyLine (an
// authorized-keys-format line) appears among the user's stored public-key
// credentials. The actual possession proof (the SSH signature challenge) is
// the SSH transport's job, per spec.md section 4.1 — by the time this is
// called the core has already verified the signature and is only asking
// the pipeline whether the offered key is one of this user's keys.
func (p *Pipeline) SubmitPublicKey(ctx context.Context, attempt *types.AuthAttempt, keyLine string) (*Result, error) {
	user, err := p.resolvedUser(ctx, attempt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ok := false
	if user != nil {
		creds, err := p.services.ListCredentialsOfKind(ctx, user.ID, types.CredentialPublicKey)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, c := range creds {
			if c.PublicKey == keyLine {
				ok = true
				break
			}
		}
	}
	return p.recordFactorResult(ctx, attempt, user, types.CredentialPublicKey, ok)
}

// SubmitOTP verifies a TOTP code against the user's OTP credential(s).
func (p *Pipeline) SubmitOTP(ctx context.Context, attempt *types.AuthAttempt, code string) (*Result, error) {
	user, err := p.resolvedUser(ctx, attempt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ok := false
	if user != nil {
		creds, err := p.services.ListCredentialsOfKind(ctx, user.ID, types.CredentialOTP)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for i := range creds {
			match, err := p.verifyOTP(ctx, &creds[i], code)
			if err != nil {
				return nil, trace.Wrap(err)
			}
			if match {
				ok = true
				break
			}
		}
	}
	return p.recordFactorResult(ctx, attempt, user, types.CredentialOTP, ok)
}

// BeginSSO parks attempt in the awaiting-approval state while the SSO
// redirect completes; there is no separate SSO state.
func (p *Pipeline) BeginSSO(ctx context.Context, attempt *types.AuthAttempt) error {
	attempt.State = types.AuthStateAwaitingApproval
	return trace.Wrap(p.services.UpdateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL))
}

// SubmitSSO verifies an SSO callback against the user's stored SSO
// credential.
func (p *Pipeline) SubmitSSO(ctx context.Context, attempt *types.AuthAttempt, cb SSOCallback) (*Result, error) {
	user, err := p.resolvedUser(ctx, attempt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	ok, err := p.verifySSO(ctx, user, cb)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p.recordFactorResult(ctx, attempt, user, types.CredentialSSO, ok)
}

// BeginWebApproval parks attempt awaiting an admin's out-of-band decision
// and blocks until Resolve is called on the shared ApprovalRegistry or ctx
// is canceled, per spec.md section 4.1/9.
func (p *Pipeline) BeginWebApproval(ctx context.Context, attempt *types.AuthAttempt) (*Result, error) {
	attempt.State = types.AuthStateAwaitingApproval
	if err := p.services.UpdateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL); err != nil {
		return nil, trace.Wrap(err)
	}
	decision, err := p.approvals.Await(ctx, attempt.ID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	user, err := p.resolvedUser(ctx, attempt)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p.recordFactorResult(ctx, attempt, user, types.CredentialWebApproval, decision == ApprovalApproved)
}

// SubmitTicket implements the ticket authentication bypass of spec.md
// section 4.1: a single API-token credential, presented as the password
// field, authenticates its bound user (and optionally a single bound
// target) in one shot, with no further factors required.
func (p *Pipeline) SubmitTicket(ctx context.Context, attempt *types.AuthAttempt, ticket string) (*Result, string, error) {
	users, err := p.services.ListUsers(ctx)
	if err != nil {
		return nil, "", trace.Wrap(err)
	}
	for _, u := range users {
		creds, err := p.services.ListCredentialsOfKind(ctx, u.ID, types.CredentialAPIToken)
		if err != nil {
			return nil, "", trace.Wrap(err)
		}
		for i := range creds {
			c := creds[i]
			if c.TicketUsed {
				continue
			}
			if c.TicketExpiresAt != nil && p.clock.Now().After(*c.TicketExpiresAt) {
				continue
			}
			match, err := p.verifyPasswordAgainst(ctx, ticket, c.APITokenHash)
			if err != nil {
				return nil, "", trace.Wrap(err)
			}
			if !match {
				continue
			}
			if c.TicketSingleUse {
				c.TicketUsed = true
				if err := p.services.UpsertCredential(ctx, c); err != nil {
					return nil, "", trace.Wrap(err)
				}
			}
			user := u
			attempt.UserID = user.ID
			attempt.MarkSatisfied(types.CredentialAPIToken)
			attempt.State = types.AuthStateSucceeded
			attempt.EndedAt = timePtr(p.clock.Now())
			if err := p.services.UpdateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL); err != nil {
				return nil, "", trace.Wrap(err)
			}
			p.backoff.recordSuccess(attempt.RemoteAddr, user.ID)
			return &Result{Attempt: attempt, Success: true, User: &user}, c.TicketTargetID, nil
		}
	}
	p.backoff.recordFailure(attempt.RemoteAddr, "")
	attempt.State = types.AuthStateFailed
	attempt.FailureReason = "invalid-ticket"
	_ = p.services.UpdateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL)
	return &Result{Attempt: attempt, Reason: "invalid-ticket"}, "", nil
}

func (p *Pipeline) resolvedUser(ctx context.Context, attempt *types.AuthAttempt) (*types.User, error) {
	if attempt.UserID == "" {
		return nil, nil
	}
	user, err := p.services.GetUser(ctx, attempt.UserID)
	if trace.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return user, nil
}

// recordFactorResult marks kind satisfied on success, advances the
// attempt's terminal state once every required kind is satisfied, applies
// backoff bookkeeping on failure, and persists the attempt either way.
func (p *Pipeline) recordFactorResult(ctx context.Context, attempt *types.AuthAttempt, user *types.User, kind types.CredentialKind, ok bool) (*Result, error) {
	if !ok {
		p.backoff.recordFailure(attempt.RemoteAddr, attempt.UserID)
		attempt.State = types.AuthStateFailed
		attempt.FailureReason = "invalid-credentials"
		if err := p.services.UpdateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL); err != nil {
			return nil, trace.Wrap(err)
		}
		log.WithFields(logrus.Fields{"attempt": attempt.ID, "kind": kind}).Debug("credential verification failed")
		return &Result{Attempt: attempt, Reason: "invalid-credentials"}, nil
	}

	attempt.MarkSatisfied(kind)
	required := user.PolicyFor(attempt.Protocol)
	if !attempt.RequiredSatisfied(required) {
		attempt.State = types.AuthStateVerifying
		if err := p.services.UpdateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL); err != nil {
			return nil, trace.Wrap(err)
		}
		return &Result{Attempt: attempt, User: user, NeedMore: missingKinds(attempt, required)}, nil
	}

	attempt.State = types.AuthStateSucceeded
	attempt.EndedAt = timePtr(p.clock.Now())
	if err := p.services.UpdateAuthAttempt(ctx, *attempt, p.cfg.AttemptTTL); err != nil {
		return nil, trace.Wrap(err)
	}
	p.backoff.recordSuccess(attempt.RemoteAddr, attempt.UserID)
	return &Result{Attempt: attempt, Success: true, User: user}, nil
}

func missingKinds(attempt *types.AuthAttempt, required []types.CredentialKind) []types.CredentialKind {
	var missing []types.CredentialKind
	for _, k := range required {
		if !attempt.Satisfied[k] {
			missing = append(missing, k)
		}
	}
	return missing
}
