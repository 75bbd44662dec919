package domain

// DeviceRegistration is the payload sent to the platform when this
// device registers (or re-registers) for push delivery. The token
// rotates at the push provider's cadence; DeviceID is stable for the
// lifetime of the local profile.
type DeviceRegistration struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
	Platform string `json:"platform"`
}

// PushMessage is a push frame handed to the background delivery worker.
// The notification sub-object may be partially or entirely absent;
// consumers apply defensive fallbacks.
type PushMessage struct {
	Notification *PushNotification `json:"notification,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
}

// PushNotification is the displayable part of a push message.
type PushNotification struct {
	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`
	Image string `json:"image,omitempty"`
}
