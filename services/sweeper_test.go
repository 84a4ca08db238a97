package services

import (
	"testing"
	"time"

	"mission-marketplace/models"

	"github.com/google/uuid"
)

func TestSweeperForceCompletesOverdueMissions(t *testing.T) {
	env := newTestEnv(t)
	host, performer := "host-1", "perf-1"
	mission := env.toPendingValidation(t, host, performer)

	// Still inside the validation window: nothing happens.
	env.advance(71 * time.Hour)
	env.Sweeper.RunOnce()
	if m := env.reloadMission(t, mission.ID); m.Status != models.MissionStatusPendingValidation {
		t.Fatalf("mission swept before its deadline: %s", m.Status)
	}

	// Past the deadline: force-complete, capture, credit.
	env.advance(2 * time.Hour)
	env.Sweeper.RunOnce()

	m := env.reloadMission(t, mission.ID)
	if m.Status != models.MissionStatusCompleted {
		t.Fatalf("mission status = %s, want COMPLETED", m.Status)
	}
	if m.ValidationDeadline != nil {
		t.Errorf("deadline not cleared on auto-completion")
	}
	if p := env.missionPayment(t, mission.ID); p.Status != models.PaymentStatusCaptured {
		t.Errorf("payment status = %s, want captured", p.Status)
	}

	var balance models.UserBalance
	if err := env.DB.Where("user_id = ?", performer).First(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Available != 45 {
		t.Errorf("performer balance = %.2f, want 45.00", balance.Available)
	}

	// The host gets the auto-validated variant, not the manual one.
	var autoCount int64
	env.DB.Model(&models.Notification{}).
		Where("user_id = ? AND title = ?", host, "Mission auto-validated").
		Count(&autoCount)
	if autoCount != 1 {
		t.Errorf("auto-validated notifications for host = %d, want 1", autoCount)
	}
}

func TestSweeperIdempotent(t *testing.T) {
	env := newTestEnv(t)
	performer := "perf-1"
	mission := env.toPendingValidation(t, "host-1", performer)

	env.advance(73 * time.Hour)
	env.Sweeper.RunOnce()
	env.Sweeper.RunOnce()

	if m := env.reloadMission(t, mission.ID); m.Status != models.MissionStatusCompleted {
		t.Fatalf("mission status = %s, want COMPLETED", m.Status)
	}
	if env.Processor.captureCount() != 1 {
		t.Errorf("processor captures = %d, want 1 across repeated sweeps", env.Processor.captureCount())
	}

	var balance models.UserBalance
	if err := env.DB.Where("user_id = ?", performer).First(&balance).Error; err != nil {
		t.Fatalf("load balance: %v", err)
	}
	if balance.Available != 45 {
		t.Errorf("performer balance = %.2f, want 45.00 (credited once)", balance.Available)
	}

	var autoCount int64
	env.DB.Model(&models.Notification{}).
		Where("title = ?", "Mission auto-validated").Count(&autoCount)
	if autoCount != 1 {
		t.Errorf("auto-validated notifications = %d, want 1", autoCount)
	}
}

func TestHostValidationWinsRaceAgainstSweep(t *testing.T) {
	env := newTestEnv(t)
	host := "host-1"
	mission := env.toPendingValidation(t, host, "perf-1")
	env.advance(73 * time.Hour)

	// The host validates between the sweeper's listing and its forced
	// transition: the force becomes a no-op, not an error.
	if _, err := env.Missions.Validate(mission.ID, host); err != nil {
		t.Fatalf("validate: %v", err)
	}
	forced, err := env.Missions.ForceValidate(mission.ID)
	if err != nil {
		t.Fatalf("force validate: %v", err)
	}
	if forced {
		t.Errorf("sweep forced a mission the host already validated")
	}

	var autoCount int64
	env.DB.Model(&models.Notification{}).
		Where("user_id = ? AND title = ?", host, "Mission auto-validated").
		Count(&autoCount)
	if autoCount != 0 {
		t.Errorf("auto-validated notification dispatched after manual validation")
	}
	if env.Processor.captureCount() != 1 {
		t.Errorf("processor captures = %d, want 1", env.Processor.captureCount())
	}
}

func TestSweeperLiftsExpiredSuspensions(t *testing.T) {
	env := newTestEnv(t)

	expired := models.ChatSuspension{
		ID:        uuid.NewString(),
		UserID:    "user-1",
		Reason:    "3 contact-information violations",
		ExpiresAt: env.now.Add(-time.Hour),
	}
	active := models.ChatSuspension{
		ID:        uuid.NewString(),
		UserID:    "user-2",
		Reason:    "3 contact-information violations",
		ExpiresAt: env.now.Add(24 * time.Hour),
	}
	if err := env.DB.Create(&expired).Error; err != nil {
		t.Fatalf("create suspension: %v", err)
	}
	if err := env.DB.Create(&active).Error; err != nil {
		t.Fatalf("create suspension: %v", err)
	}

	env.Sweeper.RunOnce()

	var reloaded models.ChatSuspension
	if err := env.DB.Where("id = ?", expired.ID).First(&reloaded).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Lifted {
		t.Errorf("expired suspension not lifted")
	}
	var reloadedActive models.ChatSuspension
	if err := env.DB.Where("id = ?", active.ID).First(&reloadedActive).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloadedActive.Lifted {
		t.Errorf("active suspension lifted early")
	}
}
