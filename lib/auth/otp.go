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

package auth

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/gravitational/trace"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"

	"github.com/warpgate-bastion/warpgate/lib/types"
)

// otpStepSeconds is the fixed TOTP step size required by spec.md section
// 4.1 ("HOTP/TOTP with 30-second step").
const otpStepSeconds = 30

// otpSkewSteps is the allowed window on either side of the current step,
// per spec.md section 4.1 ("±1 step window").
const otpSkewSteps = 1

func otpDigits(c *types.Credential) otp.Digits {
	switch c.OTPDigits {
	case 8:
		return otp.DigitsEight
	default:
		return otp.DigitsSix
	}
}

// verifyOTP checks code against credential's TOTP secret within the
// allowed skew window, enforcing replay prevention by rejecting any step at
// or before the credential's last accepted step and persisting the new
// high-water mark on success, per spec.md section 4.1 and the "OTP replay"
// testable property of spec.md section 8.
func (p *Pipeline) verifyOTP(ctx context.Context, c *types.Credential, code string) (bool, error) {
	now := p.clock.Now()
	currentStep := uint64(now.Unix() / otpStepSeconds)
	digits := otpDigits(c)

	var matchedStep uint64
	matched := false
	for delta := -otpSkewSteps; delta <= otpSkewSteps; delta++ {
		step := int64(currentStep) + int64(delta)
		if step < 0 {
			continue
		}
		candidate, err := hotp.GenerateCodeCustom(string(c.OTPSecret), uint64(step), hotp.ValidateOpts{
			Digits:    digits,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return false, trace.Wrap(err)
		}
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(code)) == 1 {
			matched = true
			matchedStep = uint64(step)
			break
		}
	}
	if !matched {
		return false, nil
	}
	if int64(matchedStep) <= c.OTPLastStep {
		// replay of an already-accepted (or older) step
		return false, nil
	}

	c.OTPLastStep = int64(matchedStep)
	c.LastUsed = timePtr(now)
	if err := p.services.UpsertCredential(ctx, *c); err != nil {
		return false, trace.Wrap(err)
	}
	return true, nil
}

func timePtr(t time.Time) *time.Time {
	return &t
}
