package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// getBaseURL returns the base URL of the admin API.
// Uses QUEUEWORKER_BASE_URL env var if set (for container tests),
// otherwise defaults to localhost:8080.
func getBaseURL() string {
	if url := os.Getenv("QUEUEWORKER_BASE_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

// httpClient creates an HTTP client with sensible defaults.
func httpClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
	}
}

// doRequest performs an HTTP request and returns the response.
func doRequest(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, getBaseURL()+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return httpClient().Do(req)
}

// parseResponse parses JSON response into target.
func parseResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(target)
}

type statusResponse struct {
	Success bool `json:"success"`
	Data    struct {
		Queue     string `json:"queue"`
		Mode      string `json:"mode"`
		Running   bool   `json:"running"`
		Paused    bool   `json:"paused"`
		Received  int64  `json:"received"`
		Succeeded int64  `json:"succeeded"`
	} `json:"data"`
}

func getStatus() statusResponse {
	resp, err := doRequest(http.MethodGet, "/v1/status", nil)
	Expect(err).NotTo(HaveOccurred())
	Expect(resp.StatusCode).To(Equal(http.StatusOK))

	var status statusResponse
	Expect(parseResponse(resp, &status)).To(Succeed())
	return status
}

func enqueue(queueName string, payload any) {
	resp, err := doRequest(http.MethodPost, "/v1/queues/"+queueName+"/messages", map[string]any{
		"payload": payload,
	})
	Expect(err).NotTo(HaveOccurred())
	resp.Body.Close()
	Expect(resp.StatusCode).To(Equal(http.StatusAccepted))
}

var _ = Describe("Admin API", Ordered, func() {
	BeforeAll(func() {
		// Check if the server is reachable
		resp, err := doRequest(http.MethodGet, "/healthz", nil)
		if err != nil {
			Skip(fmt.Sprintf("Server not reachable at %s: %v", getBaseURL(), err))
		}
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	AfterAll(func() {
		if resp, err := doRequest(http.MethodPost, "/v1/resume", nil); err == nil {
			resp.Body.Close()
		}
	})

	It("reports the consumer status", func() {
		status := getStatus()
		Expect(status.Success).To(BeTrue())
		Expect(status.Data.Queue).NotTo(BeEmpty())
		Expect(status.Data.Mode).To(BeElementOf("idle", "single", "batch"))
	})

	It("consumes a message enqueued through the API", func() {
		queueName := getStatus().Data.Queue
		before := getStatus().Data.Received

		enqueue(queueName, map[string]any{"source": "integration", "at": time.Now().Unix()})

		Eventually(func() int64 { return getStatus().Data.Received }, 10*time.Second, 100*time.Millisecond).
			Should(BeNumerically(">", before))
	})

	It("pauses and resumes the consumer", func() {
		resp, err := doRequest(http.MethodPost, "/v1/pause", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		// The gate is polled between messages; one message wakes a blocked receive.
		enqueue(getStatus().Data.Queue, "wake")
		Eventually(func() bool { return getStatus().Data.Paused }, 30*time.Second, 200*time.Millisecond).Should(BeTrue())

		resp, err = doRequest(http.MethodPost, "/v1/resume", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusAccepted))

		Eventually(func() bool { return getStatus().Data.Paused }, 30*time.Second, 200*time.Millisecond).Should(BeFalse())
	})

	It("rejects an enqueue with an unknown serializer", func() {
		resp, err := doRequest(http.MethodPost, "/v1/queues/anything/messages", map[string]any{
			"payload":    "x",
			"serializer": "xml",
		})
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
	})
})
