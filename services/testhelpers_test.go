package services

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"mission-marketplace/models"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeProcessor stands in for the external payment processor. It hands out
// sequential charge refs and counts commands so tests can assert exactly-once
// behavior.
type fakeProcessor struct {
	mu          sync.Mutex
	holdCount   int
	captures    int
	refunds     int
	failHold    bool
	failCapture bool
	failRefund  bool
	charges     map[string]string // ref -> status, served by GetCharge
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{charges: map[string]string{}}
}

func (f *fakeProcessor) CreateHold(missionID, currency string, amount float64) (*HoldResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failHold {
		return nil, fmt.Errorf("processor unavailable")
	}
	f.holdCount++
	ref := fmt.Sprintf("ch_%03d", f.holdCount)
	f.charges[ref] = "pending"
	return &HoldResult{ProcessorRef: ref, ClientToken: "tok_" + ref}, nil
}

func (f *fakeProcessor) Capture(ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCapture {
		return fmt.Errorf("processor unavailable")
	}
	f.captures++
	f.charges[ref] = "captured"
	return nil
}

func (f *fakeProcessor) Refund(ref, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefund {
		return fmt.Errorf("processor unavailable")
	}
	f.refunds++
	f.charges[ref] = "refunded"
	return nil
}

func (f *fakeProcessor) GetCharge(ref string) (*ChargeState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.charges[ref]
	if !ok {
		return nil, fmt.Errorf("unknown charge %s", ref)
	}
	return &ChargeState{ProcessorRef: ref, Status: status}, nil
}

func (f *fakeProcessor) captureCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.captures
}

func (f *fakeProcessor) setChargeStatus(ref, status string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.charges[ref] = status
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Mission{},
		&models.Offer{},
		&models.Payment{},
		&models.UserBalance{},
		&models.WebhookEvent{},
		&models.Chat{},
		&models.ChatMessage{},
		&models.ChatStrike{},
		&models.ChatSuspension{},
		&models.Notification{},
		&models.NotificationPreference{},
		&models.ProfileMirror{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type testEnv struct {
	DB            *gorm.DB
	Processor     *fakeProcessor
	Notifications *NotificationService
	Payments      *PaymentService
	Missions      *MissionService
	Offers        *OfferService
	Chat          *ChatService
	Sweeper       *Sweeper

	now     time.Time
	eventID int
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		DB:        newTestDB(t),
		Processor: newFakeProcessor(),
		now:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return env.now }

	env.Notifications = &NotificationService{DB: env.DB, Now: clock}
	env.Payments = &PaymentService{
		DB:             env.DB,
		Processor:      env.Processor,
		Notifications:  env.Notifications,
		WebhookSecret:  []byte("whsec_test"),
		CommissionRate: 0.10,
		Now:            clock,
	}
	env.Missions = &MissionService{
		DB:               env.DB,
		Payments:         env.Payments,
		Notifications:    env.Notifications,
		ValidationWindow: DefaultValidationWindow,
		Now:              clock,
	}
	env.Offers = NewOfferService(env.DB, env.Missions, env.Notifications)
	env.Chat = &ChatService{DB: env.DB, Notifications: env.Notifications, Now: clock}
	env.Sweeper = &Sweeper{DB: env.DB, Missions: env.Missions, Interval: time.Minute, Now: clock}
	return env
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) nextEventID() string {
	env.eventID++
	return fmt.Sprintf("evt_%03d", env.eventID)
}

// deliverWebhook applies one processor event with a fresh event id.
func (env *testEnv) deliverWebhook(t *testing.T, eventType, processorRef string) bool {
	t.Helper()
	applied, err := env.Payments.ApplyWebhookEvent(env.nextEventID(), eventType, processorRef, "")
	if err != nil {
		t.Fatalf("apply webhook %s: %v", eventType, err)
	}
	return applied
}

func (env *testEnv) createMission(t *testing.T, hostID, priceMode string, budget float64) *models.Mission {
	t.Helper()
	mission, err := env.Missions.CreateMissionRecord(hostID, "Assemble the shelf", "Two hours tops", priceMode, "12 rue des Lilas", "EUR", budget, 48.85, 2.35)
	if err != nil {
		t.Fatalf("create mission: %v", err)
	}
	return mission
}

func (env *testEnv) reloadMission(t *testing.T, id string) *models.Mission {
	t.Helper()
	var mission models.Mission
	if err := env.DB.Where("id = ?", id).First(&mission).Error; err != nil {
		t.Fatalf("reload mission: %v", err)
	}
	return &mission
}

func (env *testEnv) missionPayment(t *testing.T, missionID string) *models.Payment {
	t.Helper()
	var payment models.Payment
	if err := env.DB.Where("mission_id = ?", missionID).First(&payment).Error; err != nil {
		t.Fatalf("load payment: %v", err)
	}
	return &payment
}

// toPendingValidation drives a fixed-price mission all the way to
// PENDING_VALIDATION through the real transition path.
func (env *testEnv) toPendingValidation(t *testing.T, hostID, performerID string) *models.Mission {
	t.Helper()
	mission := env.createMission(t, hostID, models.PriceModeFixed, 50)

	if _, _, err := env.Missions.AcceptFixedPrice(mission.ID, hostID, performerID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	payment := env.missionPayment(t, mission.ID)
	if !env.deliverWebhook(t, models.WebhookEventAuthConfirmed, payment.ProcessorRef) {
		t.Fatalf("hold webhook not applied")
	}
	if _, err := env.Missions.ConfirmAssignment(mission.ID, hostID); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if _, err := env.Missions.StartWork(mission.ID, performerID); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := env.Missions.SubmitProof(mission.ID, performerID, "/uploads/proofs/p.jpg", "done"); err != nil {
		t.Fatalf("submit proof: %v", err)
	}
	return env.reloadMission(t, mission.ID)
}
