package notification

import "time"

// DefaultSubscription is the subscription a user gets on first access:
// web and push on, email on with immediate delivery, sms off (urgent-only
// once enabled).
func DefaultSubscription(userID string) *Subscription {
	now := time.Now()
	return &Subscription{
		UserID: userID,
		Preferences: Preferences{
			Web:   WebPreference{Enabled: true, Types: []string{}},
			Email: EmailPreference{Enabled: true, Types: []string{}, Frequency: "immediate"},
			SMS:   SMSPreference{Enabled: false, Types: []string{}, Urgent: true},
			Push:  PushPreference{Enabled: true, Types: []string{}, Sound: true, Vibration: true},
		},
		Filters:   []SubscriptionRule{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ShouldSend decides whether user settings permit delivering the notification
// on the given channel. It is evaluated per (recipient, channel) pair at send
// time, so preference changes between creation and a deferred send take
// effect. now feeds the quiet-hours check.
func ShouldSend(n *Notification, channel string, sub *Subscription, now time.Time) bool {
	var enabled bool
	var types []string

	switch channel {
	case ChannelWeb:
		enabled = sub.Preferences.Web.Enabled
		types = sub.Preferences.Web.Types
	case ChannelEmail:
		enabled = sub.Preferences.Email.Enabled
		types = sub.Preferences.Email.Types
	case ChannelSMS:
		enabled = sub.Preferences.SMS.Enabled
		types = sub.Preferences.SMS.Types
	case ChannelPush:
		enabled = sub.Preferences.Push.Enabled
		types = sub.Preferences.Push.Types
	default:
		return false
	}
	if !enabled {
		return false
	}

	// An empty allow-list permits every notification type.
	if len(types) > 0 && !contains(types, n.Type) {
		return false
	}

	if channel == ChannelSMS && sub.Preferences.SMS.Urgent {
		return n.Priority == PriorityUrgent
	}

	if channel == ChannelWeb && sub.Preferences.Web.Quiet.Enabled {
		q := sub.Preferences.Web.Quiet
		if q.StartTime != "" && q.EndTime != "" && inQuietWindow(now.Format("15:04"), q.StartTime, q.EndTime) {
			return false
		}
	}

	return true
}

// inQuietWindow reports whether the minute-resolution "HH:MM" time falls in
// [start, end). A window with start > end wraps past midnight, so 22:00-07:00
// covers late evening and early morning.
func inQuietWindow(current, start, end string) bool {
	if start <= end {
		return current >= start && current < end
	}
	return current >= start || current < end
}

func contains(list []string, value string) bool {
	for _, v := range list {
		if v == value {
			return true
		}
	}
	return false
}
