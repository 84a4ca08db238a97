package services

import (
	"errors"
	"testing"
	"time"

	"mission-marketplace/models"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{models.MissionStatusOpen, models.MissionStatusNegotiating, true},
		{models.MissionStatusOpen, models.MissionStatusCancelled, true},
		{models.MissionStatusOpen, models.MissionStatusLocked, false},
		{models.MissionStatusOpen, models.MissionStatusCompleted, false},
		{models.MissionStatusNegotiating, models.MissionStatusLocked, true},
		{models.MissionStatusNegotiating, models.MissionStatusCancelled, true},
		{models.MissionStatusNegotiating, models.MissionStatusInProgress, false},
		{models.MissionStatusLocked, models.MissionStatusInProgress, true},
		{models.MissionStatusLocked, models.MissionStatusCancelled, true},
		{models.MissionStatusInProgress, models.MissionStatusPendingValidation, true},
		{models.MissionStatusInProgress, models.MissionStatusCancelled, false},
		{models.MissionStatusPendingValidation, models.MissionStatusCompleted, true},
		{models.MissionStatusPendingValidation, models.MissionStatusDisputed, true},
		{models.MissionStatusPendingValidation, models.MissionStatusCancelled, false},
		{models.MissionStatusDisputed, models.MissionStatusCompleted, true},
		{models.MissionStatusDisputed, models.MissionStatusCancelled, true},
		{models.MissionStatusCompleted, models.MissionStatusDisputed, false},
		{models.MissionStatusCancelled, models.MissionStatusOpen, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestFixedPriceHappyPath(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"

	mission := env.createMission(t, host, models.PriceModeFixed, 50)
	if mission.Status != models.MissionStatusOpen {
		t.Fatalf("new mission status = %s, want OPEN", mission.Status)
	}
	if mission.Slug == "" {
		t.Fatalf("mission slug not generated")
	}

	m, clientToken, err := env.Missions.AcceptFixedPrice(mission.ID, host, performer)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if m.Status != models.MissionStatusNegotiating {
		t.Errorf("status after accept = %s, want NEGOTIATING", m.Status)
	}
	if clientToken == "" {
		t.Errorf("expected a client confirmation token")
	}
	payment := env.missionPayment(t, mission.ID)
	if payment.Status != models.PaymentStatusPending {
		t.Errorf("payment status = %s, want pending before webhook", payment.Status)
	}
	if payment.Commission != 5 || payment.PerformerAmount != 45 {
		t.Errorf("commission split = %.2f/%.2f, want 5.00/45.00", payment.Commission, payment.PerformerAmount)
	}

	// Confirming before the hold webhook must fail.
	if _, err := env.Missions.ConfirmAssignment(mission.ID, host); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("confirm before hold: err = %v, want ErrInvalidTransition", err)
	}

	if !env.deliverWebhook(t, models.WebhookEventAuthConfirmed, payment.ProcessorRef) {
		t.Fatalf("hold webhook not applied")
	}

	m, err = env.Missions.ConfirmAssignment(mission.ID, host)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if m.Status != models.MissionStatusLocked {
		t.Errorf("status after confirm = %s, want LOCKED", m.Status)
	}
	if !m.AddressRevealed {
		t.Errorf("address not revealed on lock")
	}

	if _, err := env.Missions.StartWork(mission.ID, performer); err != nil {
		t.Fatalf("start: %v", err)
	}

	m, err = env.Missions.SubmitProof(mission.ID, performer, "/uploads/proofs/x.jpg", "all done")
	if err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	if m.Status != models.MissionStatusPendingValidation {
		t.Errorf("status after proof = %s, want PENDING_VALIDATION", m.Status)
	}
	wantDeadline := env.now.Add(DefaultValidationWindow)
	if m.ValidationDeadline == nil || !m.ValidationDeadline.Equal(wantDeadline) {
		t.Errorf("validation deadline = %v, want %v", m.ValidationDeadline, wantDeadline)
	}

	m, err = env.Missions.Validate(mission.ID, host)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Status != models.MissionStatusCompleted {
		t.Errorf("status after validate = %s, want COMPLETED", m.Status)
	}
	if m.ValidationDeadline != nil {
		t.Errorf("validation deadline not cleared on completion")
	}

	payment = env.missionPayment(t, mission.ID)
	if payment.Status != models.PaymentStatusCaptured {
		t.Errorf("payment status = %s, want captured", payment.Status)
	}

	var balance models.UserBalance
	if err := env.DB.Where("user_id = ?", performer).First(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Available != 45 {
		t.Errorf("performer balance = %.2f, want 45.00", balance.Available)
	}
	if env.Processor.captureCount() != 1 {
		t.Errorf("processor captures = %d, want 1", env.Processor.captureCount())
	}
}

func TestAcceptFixedPriceGuards(t *testing.T) {
	env := newTestEnv(t)
	mission := env.createMission(t, "host-1", models.PriceModeFixed, 50)

	if _, _, err := env.Missions.AcceptFixedPrice(mission.ID, "someone-else", "perf-1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("non-host accept: err = %v, want ErrUnauthorized", err)
	}
	if _, _, err := env.Missions.AcceptFixedPrice(mission.ID, "host-1", "host-1"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("self-assign: err = %v, want ErrUnauthorized", err)
	}

	open := env.createMission(t, "host-1", models.PriceModeOpen, 50)
	if _, _, err := env.Missions.AcceptFixedPrice(open.ID, "host-1", "perf-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("accept on open-priced mission: err = %v, want ErrInvalidTransition", err)
	}
}

func TestHoldFailureLeavesMissionOpen(t *testing.T) {
	env := newTestEnv(t)
	env.Processor.failHold = true
	mission := env.createMission(t, "host-1", models.PriceModeFixed, 50)

	_, _, err := env.Missions.AcceptFixedPrice(mission.ID, "host-1", "perf-1")
	if !errors.Is(err, ErrPaymentCommandFailed) {
		t.Fatalf("err = %v, want ErrPaymentCommandFailed", err)
	}

	m := env.reloadMission(t, mission.ID)
	if m.Status != models.MissionStatusOpen {
		t.Errorf("mission status = %s, want OPEN after rolled-back hold", m.Status)
	}
	if m.PerformerID != nil {
		t.Errorf("performer assigned despite rollback")
	}
	var count int64
	env.DB.Model(&models.Payment{}).Where("mission_id = ?", mission.ID).Count(&count)
	if count != 0 {
		t.Errorf("payment rows = %d, want 0", count)
	}
}

func TestStartAndProofActorGuards(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"
	mission := env.createMission(t, host, models.PriceModeFixed, 50)
	if _, _, err := env.Missions.AcceptFixedPrice(mission.ID, host, performer); err != nil {
		t.Fatalf("accept: %v", err)
	}
	payment := env.missionPayment(t, mission.ID)
	env.deliverWebhook(t, models.WebhookEventAuthConfirmed, payment.ProcessorRef)
	if _, err := env.Missions.ConfirmAssignment(mission.ID, host); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	if _, err := env.Missions.StartWork(mission.ID, host); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("host starting work: err = %v, want ErrUnauthorized", err)
	}
	if _, err := env.Missions.SubmitProof(mission.ID, performer, "", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("proof before start: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.Missions.StartWork(mission.ID, performer); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Missions.Validate(mission.ID, performer); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("performer validating: err = %v, want ErrUnauthorized", err)
	}
}

func TestDisputeThenRefund(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"
	mission := env.toPendingValidation(t, host, performer)

	m, err := env.Missions.Dispute(mission.ID, host, "incomplete")
	if err != nil {
		t.Fatalf("dispute: %v", err)
	}
	if m.Status != models.MissionStatusDisputed {
		t.Errorf("status = %s, want DISPUTED", m.Status)
	}
	if m.ValidationDeadline != nil {
		t.Errorf("validation deadline not cancelled on dispute")
	}

	m, err = env.Missions.ResolveDispute(mission.ID, "admin-1", false)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Status != models.MissionStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", m.Status)
	}
	if m.DisputeResolvedBy == nil || *m.DisputeResolvedBy != "admin-1" {
		t.Errorf("dispute resolver not recorded")
	}

	payment := env.missionPayment(t, mission.ID)
	if payment.Status != models.PaymentStatusRefunded {
		t.Errorf("payment status = %s, want refunded", payment.Status)
	}
	var count int64
	env.DB.Model(&models.UserBalance{}).Where("user_id = ?", performer).Count(&count)
	if count != 0 {
		t.Errorf("performer was credited on a refunded dispute")
	}
}

func TestDisputeRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	mission := env.toPendingValidation(t, "host-1", "perf-1")

	if _, err := env.Missions.Dispute(mission.ID, "host-1", ""); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("empty reason: err = %v, want ErrInvalidTransition", err)
	}
	if m := env.reloadMission(t, mission.ID); m.Status != models.MissionStatusPendingValidation {
		t.Errorf("status changed despite rejected dispute: %s", m.Status)
	}
}

func TestResolveDisputeComplete(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"
	mission := env.toPendingValidation(t, host, performer)
	if _, err := env.Missions.Dispute(mission.ID, host, "wrong color"); err != nil {
		t.Fatalf("dispute: %v", err)
	}

	m, err := env.Missions.ResolveDispute(mission.ID, "admin-1", true)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if m.Status != models.MissionStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", m.Status)
	}
	if payment := env.missionPayment(t, mission.ID); payment.Status != models.PaymentStatusCaptured {
		t.Errorf("payment status = %s, want captured", payment.Status)
	}
}

func TestCancelRules(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"

	// OPEN mission with no payment cancels cleanly.
	open := env.createMission(t, host, models.PriceModeFixed, 30)
	m, err := env.Missions.Cancel(open.ID, host)
	if err != nil {
		t.Fatalf("cancel open: %v", err)
	}
	if m.Status != models.MissionStatusCancelled {
		t.Errorf("status = %s, want CANCELLED", m.Status)
	}

	// LOCKED mission refunds the hold.
	locked := env.createMission(t, host, models.PriceModeFixed, 50)
	if _, _, err := env.Missions.AcceptFixedPrice(locked.ID, host, performer); err != nil {
		t.Fatalf("accept: %v", err)
	}
	payment := env.missionPayment(t, locked.ID)
	env.deliverWebhook(t, models.WebhookEventAuthConfirmed, payment.ProcessorRef)
	if _, err := env.Missions.ConfirmAssignment(locked.ID, host); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.Missions.Cancel(locked.ID, host); err != nil {
		t.Fatalf("cancel locked: %v", err)
	}
	if p := env.missionPayment(t, locked.ID); p.Status != models.PaymentStatusRefunded {
		t.Errorf("payment status = %s, want refunded", p.Status)
	}

	// Once work started, cancellation is off the table.
	inProgress := env.toPendingValidation(t, "host-2", "perf-2")
	if _, err := env.Missions.Cancel(inProgress.ID, "host-2"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel pending-validation: err = %v, want ErrInvalidTransition", err)
	}
}

func TestValidateAfterProcessorCaptureDoesNotDoubleCredit(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"
	mission := env.toPendingValidation(t, host, performer)
	payment := env.missionPayment(t, mission.ID)

	// The processor captures on its own side and the webhook lands before
	// the host validates. Validation must see the captured payment, not
	// re-issue the capture command.
	env.deliverWebhook(t, models.WebhookEventCaptured, payment.ProcessorRef)

	m, err := env.Missions.Validate(mission.ID, host)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if m.Status != models.MissionStatusCompleted {
		t.Errorf("status = %s, want COMPLETED", m.Status)
	}

	var balance models.UserBalance
	if err := env.DB.Where("user_id = ?", performer).First(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Available != 45 {
		t.Errorf("performer balance = %.2f, want 45.00 (credited once)", balance.Available)
	}
	if env.Processor.captureCount() != 0 {
		t.Errorf("processor captures = %d, want 0 (charge was already captured)", env.Processor.captureCount())
	}
	if p := env.missionPayment(t, mission.ID); p.Status != models.PaymentStatusCaptured {
		t.Errorf("payment status = %s, want captured", p.Status)
	}
}

func TestGuardsRejectIllegalSourceStatus(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"

	// Nothing leaves OPEN for LOCKED or DISPUTED.
	mission := env.createMission(t, host, models.PriceModeFixed, 50)
	if _, err := env.Missions.ConfirmAssignment(mission.ID, host); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("confirm on OPEN: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.Missions.Dispute(mission.ID, host, "nothing happened"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("dispute on OPEN: err = %v, want ErrInvalidTransition", err)
	}

	// COMPLETED is terminal for every lifecycle operation.
	done := env.toPendingValidation(t, host, performer)
	if _, err := env.Missions.Validate(done.ID, host); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := env.Missions.StartWork(done.ID, performer); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("start on COMPLETED: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.Missions.SubmitProof(done.ID, performer, "/uploads/proofs/p.jpg", "again"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("proof on COMPLETED: err = %v, want ErrInvalidTransition", err)
	}
	if _, err := env.Missions.Dispute(done.ID, host, "too late"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("dispute on COMPLETED: err = %v, want ErrInvalidTransition", err)
	}
}

func TestValidationDeadlineUsesInjectedClock(t *testing.T) {
	env := newTestEnv(t)
	start := env.now
	mission := env.toPendingValidation(t, "host-1", "perf-1")

	if mission.ValidationStartedAt == nil || !mission.ValidationStartedAt.Equal(start) {
		t.Errorf("validation started at %v, want %v", mission.ValidationStartedAt, start)
	}
	if mission.ValidationDeadline == nil || !mission.ValidationDeadline.Equal(start.Add(72*time.Hour)) {
		t.Errorf("deadline = %v, want start+72h", mission.ValidationDeadline)
	}
}
