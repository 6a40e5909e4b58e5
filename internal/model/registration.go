package model

// RegistrationStep is the registration dialogue's position. Progression is
// monotonic forward except for validation failures, which re-enter the same
// step.
type RegistrationStep string

const (
	StepIdle          RegistrationStep = "idle"
	StepAskingName    RegistrationStep = "asking_name"
	StepAskingEmail   RegistrationStep = "asking_email"
	StepAskingCPF     RegistrationStep = "asking_cpf"
	StepAskingPhone   RegistrationStep = "asking_phone"
	StepAskingCity    RegistrationStep = "asking_city"
	StepAskingState   RegistrationStep = "asking_state"
	StepAskingProfile RegistrationStep = "asking_profile"
	StepConfirming    RegistrationStep = "confirming"
	StepCompleted     RegistrationStep = "completed"
)

// InProgress reports whether the dialogue is mid-registration, i.e. the
// deterministic FSM prompt owns the reply instead of the language model.
func (s RegistrationStep) InProgress() bool {
	return s != StepIdle && s != StepCompleted
}

// RegistrationData is the partial participant record collected during the
// flow. Retained after completion for audit, no longer mutated.
type RegistrationData struct {
	FullName string `json:"full_name,omitempty"`
	Email    string `json:"email,omitempty"`
	CPF      string `json:"cpf,omitempty"`
	Phone    string `json:"phone,omitempty"`
	City     string `json:"city,omitempty"`
	State    string `json:"state,omitempty"`
	Profile  string `json:"profile,omitempty"`
}
