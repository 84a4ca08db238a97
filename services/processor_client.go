// services/processor_client.go
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

// Processor is the outbound surface of the external payment processor.
// PaymentService only ever issues hold/capture/refund commands and reads
// back authoritative charge state; everything else arrives via webhooks.
type Processor interface {
	CreateHold(missionID, currency string, amount float64) (*HoldResult, error)
	Capture(processorRef string) error
	Refund(processorRef, reason string) error
	GetCharge(processorRef string) (*ChargeState, error)
}

// HoldResult is the synchronous response to a hold request. ClientToken goes
// back to the payer's browser to complete authorization; the hold itself is
// only trusted once the processor confirms it via webhook.
type HoldResult struct {
	ProcessorRef string `json:"processor_ref"`
	ClientToken  string `json:"client_token"`
}

// ChargeState is the processor's authoritative view of one charge.
type ChargeState struct {
	ProcessorRef string `json:"processor_ref"`
	Status       string `json:"status"` // pending | held | captured | refunded
	RefundReason string `json:"refund_reason,omitempty"`
}

type ProcessorClient struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

func NewProcessorClient() *ProcessorClient {
	baseURL := os.Getenv("PROCESSOR_BASE_URL")
	if baseURL == "" {
		log.Fatal("PROCESSOR_BASE_URL environment variable not set")
	}
	apiKey := os.Getenv("PROCESSOR_API_KEY")
	if apiKey == "" {
		log.Fatal("PROCESSOR_API_KEY environment variable not set")
	}

	return &ProcessorClient{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *ProcessorClient) post(path string, payload any, out any) error {
	jsonData, _ := json.Marshal(payload)

	req, err := http.NewRequest("POST", c.BaseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		log.Printf("Processor %s returned %d: %s", path, resp.StatusCode, string(body))
		return fmt.Errorf("processor returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.Unmarshal(body, out)
	}
	return nil
}

// CreateHold opens a manual-capture charge for the mission amount.
func (c *ProcessorClient) CreateHold(missionID, currency string, amount float64) (*HoldResult, error) {
	var out HoldResult
	err := c.post("/v1/charges/hold", map[string]interface{}{
		"reference": missionID,
		"amount":    amount,
		"currency":  currency,
		"capture":   "manual",
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Capture finalizes a held charge.
func (c *ProcessorClient) Capture(processorRef string) error {
	return c.post(fmt.Sprintf("/v1/charges/%s/capture", processorRef), map[string]interface{}{}, nil)
}

// Refund reverses a held or captured charge.
func (c *ProcessorClient) Refund(processorRef, reason string) error {
	return c.post(fmt.Sprintf("/v1/charges/%s/refund", processorRef), map[string]interface{}{
		"reason": reason,
	}, nil)
}

// GetCharge reads the authoritative charge state, used by the reconcile
// worker to heal payments whose webhook never arrived.
func (c *ProcessorClient) GetCharge(processorRef string) (*ChargeState, error) {
	req, err := http.NewRequest("GET", fmt.Sprintf("%s/v1/charges/%s", c.BaseURL, processorRef), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		log.Printf("Processor GetCharge returned %d: %s", resp.StatusCode, string(body))
		return nil, fmt.Errorf("processor returned %d", resp.StatusCode)
	}

	var out ChargeState
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
