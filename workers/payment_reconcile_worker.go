package workers

import (
	"context"
	"log"
	"time"

	"mission-marketplace/models"
	"mission-marketplace/services"

	"gorm.io/gorm"
)

// reconcileGracePeriod is how old a non-terminal payment must be before the
// worker asks the processor for its authoritative state. Younger payments
// are still expected to resolve via webhook.
const reconcileGracePeriod = 10 * time.Minute

// PollPaymentReconciliation heals payments whose webhook never arrived: it
// reads back the processor's charge state for stale pending/held payments
// and applies it through the same monotonic path as a webhook event.
func PollPaymentReconciliation(ctx context.Context, db *gorm.DB, payments *services.PaymentService, pollInterval time.Duration) {
	log.Println("Starting payment reconciliation polling...")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Payment reconciliation stopped.")
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-reconcileGracePeriod)

			var stale []models.Payment
			err := db.Where("status IN ? AND updated_at < ?",
				[]string{models.PaymentStatusPending, models.PaymentStatusHeld}, cutoff).
				Limit(100).Find(&stale).Error
			if err != nil {
				log.Printf("❌ [RECONCILE] DB error listing stale payments: %v", err)
				continue
			}

			for _, p := range stale {
				if err := payments.Reconcile(p.ID); err != nil {
					log.Printf("❌ [RECONCILE] payment %s (%s): %v", p.ID, p.ProcessorRef, err)
				}
			}
		}
	}
}
