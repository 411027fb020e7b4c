package enums

import "fmt"

// SagaStep maps to the saga_step enum in Postgres.
type SagaStep string

const (
	StepValidateConsumer   SagaStep = "VALIDATE_CONSUMER"
	StepValidateRestaurant SagaStep = "VALIDATE_RESTAURANT"
	StepCreateOrder        SagaStep = "CREATE_ORDER"
	StepAssignCourier      SagaStep = "ASSIGN_COURIER"
	StepApproveOrder       SagaStep = "APPROVE_ORDER"
)

var validSagaSteps = []SagaStep{
	StepValidateConsumer,
	StepValidateRestaurant,
	StepCreateOrder,
	StepAssignCourier,
	StepApproveOrder,
}

// IsValid reports whether the value matches the canonical saga_step enum.
func (s SagaStep) IsValid() bool {
	for _, candidate := range validSagaSteps {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseSagaStep converts raw input into SagaStep.
func ParseSagaStep(value string) (SagaStep, error) {
	for _, candidate := range validSagaSteps {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid saga step %q", value)
}

// SagaStatus maps to the saga_status enum in Postgres.
type SagaStatus string

const (
	SagaStarted       SagaStatus = "STARTED"
	SagaInProgress    SagaStatus = "IN_PROGRESS"
	SagaAwaitingReply SagaStatus = "AWAITING_REPLY"
	SagaCompensating  SagaStatus = "COMPENSATING"
	SagaCompleted     SagaStatus = "COMPLETED"
	SagaFailed        SagaStatus = "FAILED"
)

var validSagaStatuses = []SagaStatus{
	SagaStarted,
	SagaInProgress,
	SagaAwaitingReply,
	SagaCompensating,
	SagaCompleted,
	SagaFailed,
}

// IsValid reports whether the value matches the canonical saga_status enum.
func (s SagaStatus) IsValid() bool {
	for _, candidate := range validSagaStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the saga accepts no further mutation.
func (s SagaStatus) IsTerminal() bool {
	return s == SagaCompleted || s == SagaFailed
}

// ParseSagaStatus converts raw input into SagaStatus.
func ParseSagaStatus(value string) (SagaStatus, error) {
	for _, candidate := range validSagaStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid saga status %q", value)
}
