// services/mailer_client.go
package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"
)

// Mailer sends transactional email through the platform mailer service.
type Mailer interface {
	Send(to, subject, body string) error
}

type MailerClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewMailerClient() *MailerClient {
	baseURL := os.Getenv("MAILER_SERVICE_URL")
	if baseURL == "" {
		log.Fatal("MAILER_SERVICE_URL environment variable not set")
	}
	token := os.Getenv("MAILER_SERVICE_TOKEN")
	if token == "" {
		log.Fatal("MAILER_SERVICE_TOKEN environment variable not set")
	}

	return &MailerClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Send posts one transactional email. Callers treat failures as
// fire-and-forget: a lost email never blocks or rolls back a transition.
func (c *MailerClient) Send(to, subject, body string) error {
	reqBody := map[string]interface{}{
		"to":      to,
		"subject": subject,
		"body":    body,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequest("POST", c.BaseURL+"/v1/send", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("Mailer /v1/send returned %d: %s", resp.StatusCode, string(respBody))
		return fmt.Errorf("mailer returned %d", resp.StatusCode)
	}
	return nil
}
