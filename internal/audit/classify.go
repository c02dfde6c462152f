package audit

type ActionKind string

const (
	KindCreated             ActionKind = "created"
	KindUpdated             ActionKind = "updated"
	KindDeleted             ActionKind = "deleted"
	KindVerified            ActionKind = "verified"
	KindRejected            ActionKind = "rejected"
	KindPreVerified         ActionKind = "pre_verified"
	KindPreRejected         ActionKind = "pre_rejected"
	KindVerificationReset   ActionKind = "verification_reset"
	KindVerificationChanged ActionKind = "verification_changed"
)

type Origin string

const (
	OriginAdmin  Origin = "admin"
	OriginSystem Origin = "system"
)

// Verification statuses as written into diffs.
const (
	VerificationNone        = 0
	VerificationPreRejected = 1
	VerificationPreVerified = 2
	VerificationRejected    = 3
	VerificationVerified    = 4
)

var verificationKinds = map[int64]ActionKind{
	VerificationNone:        KindVerificationReset,
	VerificationPreRejected: KindPreRejected,
	VerificationPreVerified: KindPreVerified,
	VerificationRejected:    KindRejected,
	VerificationVerified:    KindVerified,
}

var kindLabels = map[ActionKind]string{
	KindCreated:             "creation",
	KindUpdated:             "update",
	KindDeleted:             "deletion",
	KindVerified:            "verification",
	KindRejected:            "rejection",
	KindPreVerified:         "pre-verification",
	KindPreRejected:         "pre-rejection",
	KindVerificationReset:   "verification reset",
	KindVerificationChanged: "verification change",
}

// Action describes what an event did and who caused it.
type Action struct {
	Kind    ActionKind `json:"kind"`
	Origin  Origin     `json:"origin"`
	Cascade bool       `json:"cascade"`
	Label   string     `json:"label"`
}

// IsVerification reports whether the action changed a verification status.
func (a Action) IsVerification() bool {
	switch a.Kind {
	case KindCreated, KindUpdated, KindDeleted:
		return false
	}
	return true
}

// TouchesVerification reports whether the diff changes verificationStatus.
func TouchesVerification(c Changes) bool {
	return c.Has(FieldVerificationStatus)
}

// ClassifyAction labels an event from its action type, the top entity's
// diff and the actor. A nil actor is a system action.
func ClassifyAction(actionType ActionType, sample Changes, actionUserID *int64, cascade bool) Action {
	a := Action{Origin: OriginAdmin, Cascade: cascade}
	if actionUserID == nil {
		a.Origin = OriginSystem
	}
	switch actionType {
	case ActionCreated:
		a.Kind = KindCreated
	case ActionDeleted:
		a.Kind = KindDeleted
	default:
		a.Kind = KindUpdated
		if ch, ok := sample.Get(FieldVerificationStatus); ok {
			a.Kind = KindVerificationChanged
			if v, ok := Int64Value(ch.NewValue); ok {
				if k, ok := verificationKinds[v]; ok {
					a.Kind = k
				}
			}
		}
	}
	a.Label = describe(a)
	return a
}

func describe(a Action) string {
	who := "Admin"
	if a.Origin == OriginSystem {
		who = "System"
	}
	s := who + " " + kindLabels[a.Kind]
	if a.Cascade {
		s += " cascade"
	}
	return s
}
