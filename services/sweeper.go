// services/sweeper.go
package services

import (
	"log"
	"time"

	"mission-marketplace/models"

	"github.com/go-co-op/gocron/v2"
	"gorm.io/gorm"
)

// Sweeper is the time-driven side of the orchestrator: it force-validates
// missions whose validation window elapsed and lifts expired chat
// suspensions. Every forced transition is its own transaction with the
// guard re-checked under lock, so the sweep is safe to run concurrently
// with explicit user actions and with itself.
type Sweeper struct {
	DB       *gorm.DB
	Missions *MissionService
	Interval time.Duration
	Now      func() time.Time
}

func NewSweeper(db *gorm.DB, missions *MissionService) *Sweeper {
	return &Sweeper{
		DB:       db,
		Missions: missions,
		Interval: 1 * time.Minute,
		Now:      time.Now,
	}
}

func (s *Sweeper) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Start schedules the periodic sweep.
func (s *Sweeper) Start() gocron.Scheduler {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(s.Interval),
		gocron.NewTask(func() {
			s.RunOnce()
		}),
	)
	return sched
}

// RunOnce performs one full sweep. Running it twice in a row over the same
// data is a no-op the second time.
func (s *Sweeper) RunOnce() {
	now := s.now()

	var due []models.Mission
	err := s.DB.Where("status = ? AND validation_deadline <= ?", models.MissionStatusPendingValidation, now).
		Find(&due).Error
	if err != nil {
		log.Printf("[SWEEPER] DB error listing overdue missions: %v", err)
	} else {
		for _, m := range due {
			forced, err := s.Missions.ForceValidate(m.ID)
			if err != nil {
				log.Printf("[SWEEPER] failed to force-validate mission %s: %v", m.ID, err)
				continue
			}
			if forced {
				log.Printf("✅ [SWEEPER] auto-validated mission %s after deadline", m.ID)
			}
		}
	}

	result := s.DB.Model(&models.ChatSuspension{}).
		Where("lifted = ? AND expires_at <= ?", false, now).
		Update("lifted", true)
	if result.Error != nil {
		log.Printf("[SWEEPER] DB error lifting suspensions: %v", result.Error)
	} else if result.RowsAffected > 0 {
		log.Printf("✅ [SWEEPER] lifted %d expired chat suspension(s)", result.RowsAffected)
	}
}
