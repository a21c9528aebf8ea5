package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsCandidateRFQ(t *testing.T) {
	classifier := NewRFQClassifier(nil)

	tests := []struct {
		name      string
		subject   string
		body      string
		candidate bool
		keyword   string
	}{
		{"subject phrase", "Request for Quotation", "", true, "request for quotation"},
		{"short token in subject", "RFQ-2291 pumps", "", true, "rfq"},
		{"body phrase across whitespace", "Hello", "Could you send a\n  price   list for valves?", true, "price list"},
		{"plural of long keyword", "Quotes needed", "", true, "quote"},
		{"short token inside a word", "Forbidden access", "The bidet arrived", false, ""},
		{"short token as word", "Bid due Friday", "", true, "bid"},
		{"unrelated", "Lunch on Friday?", "See you there", false, ""},
		{"bounce of an rfq", "Undeliverable: Request for Quotation", "", false, ""},
		{"auto reply", "Automatic reply: RFQ 12", "", false, ""},
		{"reply to rfq", "RE: Request for quote 12", "", true, "request for quote"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			candidate, keyword := classifier.IsCandidateRFQ(tt.subject, tt.body)
			assert.Equal(t, tt.candidate, candidate)
			assert.Equal(t, tt.keyword, keyword)
		})
	}
}

func TestIsCandidateRFQ_CustomKeywords(t *testing.T) {
	classifier := NewRFQClassifier([]string{"  Offerte ", "offerte", "po"})

	candidate, keyword := classifier.IsCandidateRFQ("Offerte aanvraag", "")
	assert.True(t, candidate)
	assert.Equal(t, "offerte", keyword)

	candidate, _ = classifier.IsCandidateRFQ("Request for quotation", "")
	assert.False(t, candidate)

	candidate, _ = classifier.IsCandidateRFQ("Report attached", "")
	assert.False(t, candidate)
}

func TestIsSystemSender(t *testing.T) {
	system, _ := IsSystemSender("MAILER-DAEMON@mx.acme.test")
	assert.True(t, system)

	system, _ = IsSystemSender("")
	assert.False(t, system)
}
