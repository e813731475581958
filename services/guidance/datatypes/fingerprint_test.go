// Copyright (C) 2025 Khanya AI (info@khanya.ai)
// Tests for request fingerprinting

package datatypes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleRequest() GuidanceRequest {
	return GuidanceRequest{
		Query: "What careers suit strong Mathematics marks?",
		Profile: SanitisedProfile{
			Province: "Gauteng",
			Marks: map[string]float64{
				"Mathematics":       82,
				"Physical Sciences": 75,
				"English":           68,
			},
			Interests: []string{"engineering", "technology"},
		},
		Params: PromptParams{Temperature: 0.2, MaxTokens: 1024},
	}
}

func TestFingerprint_Stable(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_QueryNormalization(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	b.Query = "  what careers suit   STRONG mathematics marks?  "
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_MarkOrderIrrelevant(t *testing.T) {
	a := sampleRequest()
	b := sampleRequest()
	// Rebuild the marks map in a different insertion order.
	b.Profile.Marks = map[string]float64{
		"English":           68,
		"Physical Sciences": 75,
		"Mathematics":       82,
	}
	b.Profile.Interests = []string{"technology", "engineering"}
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
}

func TestFingerprint_SensitiveToContent(t *testing.T) {
	base := sampleRequest()

	changedQuery := sampleRequest()
	changedQuery.Query = "Which bursaries close this year?"
	assert.NotEqual(t, base.Fingerprint(), changedQuery.Fingerprint())

	changedMark := sampleRequest()
	changedMark.Profile.Marks["Mathematics"] = 50
	assert.NotEqual(t, base.Fingerprint(), changedMark.Fingerprint())

	changedParams := sampleRequest()
	changedParams.Params.MaxTokens = 2048
	assert.NotEqual(t, base.Fingerprint(), changedParams.Fingerprint())

	changedProvince := sampleRequest()
	changedProvince.Profile.Province = "Limpopo"
	assert.NotEqual(t, base.Fingerprint(), changedProvince.Fingerprint())
}

func TestAskRequest_Validate(t *testing.T) {
	req := AskRequest{
		Query: "career options",
		Profile: AskProfile{
			Marks: map[string]float64{"Mathematics": 70},
		},
		Session: SessionPayload{ConsentGiven: true, ConsentTimestamp: "2026-03-01T10:00:00Z"},
	}
	assert.NoError(t, req.Validate())

	req.Profile.Marks["Mathematics"] = 140
	assert.Error(t, req.Validate())

	req.Profile.Marks["Mathematics"] = 70
	req.Session.ConsentTimestamp = "yesterday"
	assert.Error(t, req.Validate())
}

func TestParsedSession(t *testing.T) {
	req := AskRequest{Session: SessionPayload{ConsentGiven: true, ConsentTimestamp: "2026-03-01T10:00:00Z"}}
	s := req.ParsedSession()
	assert.True(t, s.ConsentGiven)
	assert.NotNil(t, s.ConsentTimestamp)

	// Malformed timestamps come through as absent, which the gate denies.
	req.Session.ConsentTimestamp = "not-a-time"
	s = req.ParsedSession()
	assert.Nil(t, s.ConsentTimestamp)
}
