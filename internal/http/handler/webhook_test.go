package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"biosummit.app/concierge/internal/http/dto"
	"biosummit.app/concierge/internal/http/handler"
	"biosummit.app/concierge/internal/model"
	"biosummit.app/concierge/internal/queue"
)

type mockProducer struct {
	enqueueFn func(ctx context.Context, job queue.Job) (bool, error)
	jobs      []queue.Job
}

func (m *mockProducer) Enqueue(ctx context.Context, job queue.Job) (bool, error) {
	m.jobs = append(m.jobs, job)
	if m.enqueueFn != nil {
		return m.enqueueFn(ctx, job)
	}
	return true, nil
}

func (m *mockProducer) Close() error { return nil }

var _ = Describe("WebhookHandler", func() {
	var (
		router   *gin.Engine
		producer *mockProducer
	)

	post := func(body any) *httptest.ResponseRecorder {
		payload, err := json.Marshal(body)
		Expect(err).NotTo(HaveOccurred())

		req := httptest.NewRequest(http.MethodPost, "/webhooks/messages", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		return rec
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		router = gin.New()
		producer = &mockProducer{}
		h := handler.NewWebhookHandler(producer)
		router.POST("/webhooks/messages", h.Inbound)
	})

	It("admits a text message and returns 202", func() {
		rec := post(dto.InboundMessageRequest{
			MessageID:      "wamid.42",
			ConversationID: "5541999380969",
			Sender:         "Maria",
			Text:           "oi",
		})

		Expect(rec.Code).To(Equal(http.StatusAccepted))

		var resp dto.InboundMessageResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Admitted).To(BeTrue())
		Expect(resp.JobKey).To(Equal("wamid-42"))

		Expect(producer.jobs).To(HaveLen(1))
		Expect(producer.jobs[0].Content.Kind).To(Equal(model.ContentText))
	})

	It("acknowledges a duplicate admission with admitted=false", func() {
		producer.enqueueFn = func(_ context.Context, _ queue.Job) (bool, error) {
			return false, nil
		}

		rec := post(dto.InboundMessageRequest{
			MessageID:      "wamid.42",
			ConversationID: "5541999380969",
			Text:           "oi",
		})

		Expect(rec.Code).To(Equal(http.StatusAccepted))

		var resp dto.InboundMessageResponse
		Expect(json.Unmarshal(rec.Body.Bytes(), &resp)).To(Succeed())
		Expect(resp.Admitted).To(BeFalse())
	})

	It("prefers the caption over transcription for audio with caption", func() {
		rec := post(dto.InboundMessageRequest{
			MessageID:      "wamid.43",
			ConversationID: "5541999380969",
			AudioURL:       "https://cdn.example/voice.ogg",
			Caption:        "quero me inscrever",
		})

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(producer.jobs).To(HaveLen(1))
		Expect(producer.jobs[0].Content.Kind).To(Equal(model.ContentCaption))
		Expect(producer.jobs[0].Content.Text).To(Equal("quero me inscrever"))
	})

	It("tags bare audio as an audio reference", func() {
		rec := post(dto.InboundMessageRequest{
			MessageID:      "wamid.44",
			ConversationID: "5541999380969",
			AudioURL:       "https://cdn.example/voice.ogg",
		})

		Expect(rec.Code).To(Equal(http.StatusAccepted))
		Expect(producer.jobs[0].Content.Kind).To(Equal(model.ContentAudioRef))
		Expect(producer.jobs[0].Content.AudioURL).To(Equal("https://cdn.example/voice.ogg"))
	})

	It("rejects a message without text or audio", func() {
		rec := post(dto.InboundMessageRequest{
			MessageID:      "wamid.45",
			ConversationID: "5541999380969",
		})

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(producer.jobs).To(BeEmpty())
	})

	It("rejects a payload missing required identifiers", func() {
		rec := post(map[string]string{"text": "oi"})

		Expect(rec.Code).To(Equal(http.StatusBadRequest))
		Expect(producer.jobs).To(BeEmpty())
	})

	It("returns 503 when the queue is unreachable so the gateway redelivers", func() {
		producer.enqueueFn = func(_ context.Context, _ queue.Job) (bool, error) {
			return false, errors.New("redis: connection refused")
		}

		rec := post(dto.InboundMessageRequest{
			MessageID:      "wamid.46",
			ConversationID: "5541999380969",
			Text:           "oi",
		})

		Expect(rec.Code).To(Equal(http.StatusServiceUnavailable))
	})
})
