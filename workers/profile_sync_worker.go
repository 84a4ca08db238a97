package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"time"

	"mission-marketplace/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ProfileSyncClient polls the identity service for changed profiles and
// mirrors them into profile_mirror. The notification resolver reads email
// addresses and timezones from the mirror so dispatch never calls the
// identity service inline.
type ProfileSyncClient struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	DB         *gorm.DB
}

func NewProfileSyncClient(db *gorm.DB) *ProfileSyncClient {
	baseURL := os.Getenv("IDENTITY_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("IDENTITY_SERVICE_URL environment variable is required")
	}
	token := os.Getenv("MARKETPLACE_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("MARKETPLACE_SERVICE_TOKEN environment variable is required for profile sync")
	}

	return &ProfileSyncClient{
		BaseURL: baseURL,
		Token:   token,
		DB:      db,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *ProfileSyncClient) GetChangedProfiles(ctx context.Context, since time.Time) ([]models.ProfileMirror, error) {
	since = since.UTC()

	u, err := url.Parse(fmt.Sprintf("%s/api/v1/public/profiles", c.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to parse base URL: %w", err)
	}

	q := u.Query()
	q.Set("since", since.Format(time.RFC3339))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call identity service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("identity service returned status %d: %s", resp.StatusCode, string(body))
	}

	var response struct {
		Profiles []models.ProfileMirror `json:"profiles"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("failed to decode identity service response: %w", err)
	}

	return response.Profiles, nil
}

// PollProfiles keeps the mirror fresh. A failed poll retries the same window
// on the next tick instead of advancing the cursor.
func PollProfiles(ctx context.Context, client *ProfileSyncClient, pollInterval time.Duration) {
	log.Println("Starting profile polling (DB-backed)...")
	lastSyncTime := time.Now().UTC().Add(-24 * time.Hour)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Profile polling stopped.")
			return
		case <-ticker.C:
			tickTime := time.Now().UTC()

			profiles, err := client.GetChangedProfiles(ctx, lastSyncTime)
			if err != nil {
				log.Printf("❌ Error polling profiles: %v", err)
				continue
			}

			count := len(profiles)
			if count == 0 {
				continue
			}

			// Batch upsert keyed on the external user id.
			if err := client.DB.Clauses(
				clause.OnConflict{
					Columns: []clause.Column{{Name: "user_id"}},
					DoUpdates: clause.AssignmentColumns([]string{
						"display_name",
						"email",
						"timezone",
						"is_active",
						"synced_at",
						"updated_at",
					}),
				},
			).Create(&profiles).Error; err != nil {
				log.Printf("❌ Failed to upsert %d profile(s) into profile_mirror: %v", count, err)
				// Do NOT update lastSyncTime on failure — retry same window next tick
				continue
			}

			lastSyncTime = tickTime
			log.Printf("✅ Upserted %d profile(s) into profile_mirror table.", count)
		}
	}
}
