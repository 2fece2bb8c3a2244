package e2e

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/cucumber/godog"

	"suiverify/internal/delivery/sink"
)

// RegisterSteps registers all step definitions
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	// Environment steps
	ctx.Step(`^the kafka broker is (available|unavailable)$`, tc.kafkaBrokerIs)
	ctx.Step(`^the webhook relay is (available|unavailable)$`, tc.webhookRelayIs)

	// Verification publishing steps
	ctx.Step(`^I publish a verification for wallet "([^"]*)" with did (\d+), aadhaar "([^"]*)", date of birth "([^"]*)" and phone "([^"]*)"$`, tc.publishVerification)
	ctx.Step(`^I publish an unverified result for wallet "([^"]*)"$`, tc.publishUnverified)
	ctx.Step(`^the publish outcome should be "([^"]*)"$`, tc.publishOutcomeShouldBe)
	ctx.Step(`^the kafka topic should have received (\d+) messages?$`, tc.kafkaShouldHaveReceived)
	ctx.Step(`^the relay should have forwarded (\d+) messages?$`, tc.relayShouldHaveForwarded)
	ctx.Step(`^the sink should have recorded (\d+) messages?$`, tc.sinkShouldHaveRecorded)
	ctx.Step(`^the published event field "([^"]*)" should equal "([^"]*)"$`, tc.publishedFieldShouldEqual)
	ctx.Step(`^the published evidence hash should be the SHA-256 of "([^"]*)"$`, tc.publishedHashShouldBe)
	ctx.Step(`^no published payload should contain "([^"]*)"$`, tc.noPayloadShouldContain)
	ctx.Step(`^the service log should not contain "([^"]*)"$`, tc.serviceLogShouldNotContain)

	// OTP steps
	ctx.Step(`^I request an OTP for phone "([^"]*)" and wallet "([^"]*)" with purpose "([^"]*)"$`, tc.requestOTP)
	ctx.Step(`^I resend the OTP for phone "([^"]*)" and wallet "([^"]*)" with purpose "([^"]*)"$`, tc.resendOTP)
	ctx.Step(`^I save the echoed OTP$`, tc.saveEchoedOTP)
	ctx.Step(`^the response should not carry an OTP$`, tc.responseShouldNotCarryOTP)
	ctx.Step(`^I verify the saved OTP for phone "([^"]*)" and wallet "([^"]*)" with purpose "([^"]*)"$`, tc.verifySavedOTP)
	ctx.Step(`^I verify OTP "([^"]*)" for phone "([^"]*)" and wallet "([^"]*)" with purpose "([^"]*)"$`, tc.verifyOTP)

	// Assertion steps
	ctx.Step(`^the response status should be (\d+)$`, tc.responseStatusShouldBe)
	ctx.Step(`^the response should contain "([^"]*)"$`, tc.responseShouldContain)
	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, tc.responseFieldShouldEqual)
}

func (tc *TestContext) kafkaBrokerIs(_ context.Context, state string) error {
	tc.Broker.setDown(state == "unavailable")
	return nil
}

func (tc *TestContext) webhookRelayIs(_ context.Context, state string) error {
	if state == "unavailable" {
		tc.RelayServer.Close()
	}
	return nil
}

func (tc *TestContext) publishVerification(_ context.Context, wallet string, did int, aadhaar, dob, phone string) error {
	return tc.POST("/api/verification/events", map[string]any{
		"wallet_address": wallet,
		"did":            did,
		"is_verified":    1,
		"aadhaar_number": aadhaar,
		"date_of_birth":  dob,
		"phone_number":   phone,
	})
}

func (tc *TestContext) publishUnverified(_ context.Context, wallet string) error {
	return tc.POST("/api/verification/events", map[string]any{
		"wallet_address": wallet,
		"is_verified":    0,
	})
}

func (tc *TestContext) publishOutcomeShouldBe(ctx context.Context, outcome string) error {
	if err := tc.responseStatusShouldBe(ctx, 200); err != nil {
		return err
	}
	if err := tc.responseFieldShouldEqual(ctx, "success", "true"); err != nil {
		return err
	}
	return tc.responseFieldShouldEqual(ctx, "outcome", outcome)
}

func (tc *TestContext) kafkaShouldHaveReceived(_ context.Context, n int) error {
	got := tc.Broker.received()
	if len(got) != n {
		return fmt.Errorf("expected %d kafka messages, got %d", n, len(got))
	}
	for _, m := range got {
		if m.Topic != topic {
			return fmt.Errorf("message produced to %q, want %q", m.Topic, topic)
		}
		if !strings.HasPrefix(string(m.Key), "verification_") {
			return fmt.Errorf("unexpected message key %q", m.Key)
		}
	}
	return nil
}

func (tc *TestContext) relayShouldHaveForwarded(_ context.Context, n int) error {
	if got := len(tc.RelayBroker.received()); got != n {
		return fmt.Errorf("expected relay to forward %d messages, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) sinkShouldHaveRecorded(_ context.Context, n int) error {
	recs, err := tc.SinkRecords()
	if err != nil {
		return err
	}
	if len(recs) != n {
		return fmt.Errorf("expected %d sink records, got %d", n, len(recs))
	}
	for _, r := range recs {
		if r["msg"] != sink.MessagePrefix+topic {
			return fmt.Errorf("sink record message %v", r["msg"])
		}
	}
	return nil
}

func (tc *TestContext) lastPayload() (map[string]any, error) {
	payloads, err := tc.AllPublishedPayloads()
	if err != nil {
		return nil, err
	}
	if len(payloads) == 0 {
		return nil, fmt.Errorf("no event was published")
	}
	var ev map[string]any
	if err := json.Unmarshal([]byte(payloads[len(payloads)-1]), &ev); err != nil {
		return nil, fmt.Errorf("published payload is not JSON: %w", err)
	}
	return ev, nil
}

func (tc *TestContext) publishedFieldShouldEqual(_ context.Context, field, expected string) error {
	ev, err := tc.lastPayload()
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%v", ev[field]); got != expected {
		return fmt.Errorf("published %s = %q, want %q", field, got, expected)
	}
	return nil
}

func (tc *TestContext) publishedHashShouldBe(ctx context.Context, preimage string) error {
	sum := sha256.Sum256([]byte(preimage))
	return tc.publishedFieldShouldEqual(ctx, "evidence_hash", hex.EncodeToString(sum[:]))
}

func (tc *TestContext) noPayloadShouldContain(_ context.Context, text string) error {
	payloads, err := tc.AllPublishedPayloads()
	if err != nil {
		return err
	}
	for _, p := range payloads {
		if strings.Contains(p, text) {
			return fmt.Errorf("payload leaks %q: %s", text, p)
		}
	}
	return nil
}

func (tc *TestContext) serviceLogShouldNotContain(_ context.Context, text string) error {
	for _, line := range tc.AppOutput.Lines() {
		if strings.Contains(line, text) {
			return fmt.Errorf("service log leaks %q: %s", text, line)
		}
	}
	return nil
}

func otpForm(phone, wallet, purpose string) url.Values {
	return url.Values{
		"phone_number": {phone},
		"user_address": {wallet},
		"purpose":      {purpose},
	}
}

func (tc *TestContext) requestOTP(_ context.Context, phone, wallet, purpose string) error {
	return tc.POSTForm("/api/otp/send", otpForm(phone, wallet, purpose))
}

func (tc *TestContext) resendOTP(_ context.Context, phone, wallet, purpose string) error {
	return tc.POSTForm("/api/otp/resend", otpForm(phone, wallet, purpose))
}

func (tc *TestContext) saveEchoedOTP(context.Context) error {
	v, err := tc.GetResponseField("data.otp")
	if err != nil {
		return err
	}
	code, ok := v.(string)
	if !ok || code == "" {
		return fmt.Errorf("response carries no otp: %s", tc.LastResponseBody)
	}
	tc.LastOTP = code
	return nil
}

func (tc *TestContext) responseShouldNotCarryOTP(context.Context) error {
	if v, err := tc.GetResponseField("data.otp"); err == nil {
		return fmt.Errorf("response echoes otp %v", v)
	}
	return nil
}

func (tc *TestContext) verifySavedOTP(ctx context.Context, phone, wallet, purpose string) error {
	return tc.verifyOTP(ctx, tc.LastOTP, phone, wallet, purpose)
}

func (tc *TestContext) verifyOTP(_ context.Context, code, phone, wallet, purpose string) error {
	form := otpForm(phone, wallet, purpose)
	form.Set("otp_code", code)
	return tc.POSTForm("/api/otp/verify", form)
}

func (tc *TestContext) responseStatusShouldBe(_ context.Context, expected int) error {
	if got := tc.GetLastResponseStatus(); got != expected {
		return fmt.Errorf("expected status %d, got %d: %s", expected, got, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseShouldContain(_ context.Context, text string) error {
	if !strings.Contains(string(tc.LastResponseBody), text) {
		return fmt.Errorf("response does not contain %q: %s", text, tc.LastResponseBody)
	}
	return nil
}

func (tc *TestContext) responseFieldShouldEqual(_ context.Context, field, expected string) error {
	v, err := tc.GetResponseField(field)
	if err != nil {
		return err
	}
	if got := fmt.Sprintf("%v", v); got != expected {
		return fmt.Errorf("response %s = %q, want %q", field, got, expected)
	}
	return nil
}
