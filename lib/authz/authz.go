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

// Package authz checks whether an authenticated user may reach a given
// target, split out from package auth the way the teacher splits lib/authz
// from lib/auth: authentication answers "who are you", authorization
// answers "what can you touch".
package authz

import (
	"context"

	"github.com/gravitational/trace"

	"github.com/warpgate-bastion/warpgate/lib/services"
	"github.com/warpgate-bastion/warpgate/lib/types"
)

// CheckAccess implements spec.md section 8's invariant: "a user can reach a
// target iff their role set intersects the target's allowed roles." A
// failed check returns trace.AccessDenied, deliberately indistinguishable
// at the wire level from an authentication failure (spec.md section 7,
// TargetNotAllowed).
func CheckAccess(user *types.User, target *types.Target) error {
	if user == nil {
		return trace.AccessDenied("access denied")
	}
	if !target.Reachable(user.Roles) {
		return trace.AccessDenied("access denied")
	}
	return nil
}

// ResolveTarget looks up a target by name and checks access in one call,
// the common case for protocol cores selecting a target from a client
// username/host/query-parameter hint.
func ResolveTarget(ctx context.Context, svc services.Targets, user *types.User, targetName string) (*types.Target, error) {
	targets, err := svc.ListTargets(ctx)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for i := range targets {
		if targets[i].Name == targetName {
			if err := CheckAccess(user, &targets[i]); err != nil {
				// Logged with detail server-side but returned as a bare
				// access-denied to the caller, per spec.md section 7.
				return nil, trace.Wrap(err)
			}
			return &targets[i], nil
		}
	}
	return nil, trace.AccessDenied("access denied")
}
