package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecisionConstructors_Validate(t *testing.T) {
	for _, d := range []Decision{
		Accept(49.99),
		Counter(80, ReasonBelowFloor, "how about 80"),
		Reject(ReasonItemNotFound),
		RequireUI(TemplateHighValueConfirm, map[string]string{"price": "1500.00"}),
	} {
		assert.NoError(t, d.Validate(), "kind %s", d.Kind)
	}
}

func TestDecision_ValidateRejectsMultipleVariants(t *testing.T) {
	d := Accept(10)
	d.Rejected = &Rejected{ReasonCode: ReasonItemNotFound}
	assert.Error(t, d.Validate())
}

func TestDecision_ValidateRejectsEmpty(t *testing.T) {
	assert.Error(t, Decision{Kind: DecisionAccepted}.Validate())
	assert.Error(t, Decision{}.Validate())
}

func TestDecision_ValidateRejectsKindMismatch(t *testing.T) {
	d := Decision{
		Kind:      DecisionAccepted,
		Countered: &Countered{ProposedPrice: 80},
	}
	assert.Error(t, d.Validate())
}

func TestAccept_RevealAttachedLater(t *testing.T) {
	d := Accept(25)
	require.NotNil(t, d.Accepted)
	assert.Equal(t, RevealKind(""), d.Accepted.Reveal.Kind)
}
