package notify

import (
	"fmt"
	"time"

	"github.com/oszuidwest/zwfm-capture/internal/archive"
	"github.com/oszuidwest/zwfm-capture/internal/types"
	"github.com/oszuidwest/zwfm-capture/internal/util"
)

// failureEmail builds the alert sent when a capture session fails.
func failureEmail(station string, ev types.StateEvent) (subject, body string) {
	subject = "[ALERT] Capture Failed - " + station
	body = fmt.Sprintf(
		"A capture session failed on %s.\n\n"+
			"Session: %s\n"+
			"Error:   %s\n"+
			"Time:    %s\n\n"+
			"Audio may still be muted or routed to the speaker until the session is stopped.",
		AppName, ev.SessionID, ev.Error, util.HumanTime(ev.Timestamp),
	)
	return subject, body
}

// uploadAbandonedEmail builds the alert sent when an upload is given up.
func uploadAbandonedEmail(station string, a archive.AbandonedUpload) (subject, body string) {
	subject = "[ALERT] Upload Abandoned - " + station
	body = fmt.Sprintf(
		"A recording upload was abandoned at %s.\n\n"+
			"Session:  %s\n"+
			"File:     %s\n"+
			"S3 key:   %s\n"+
			"Attempts: %d\n"+
			"Error:    %s\n\n"+
			"The recording is still available locally.",
		util.HumanTime(time.Now()), a.SessionID, a.Filename, a.S3Key, a.Attempts, a.LastError,
	)
	return subject, body
}

// testEmail builds the message sent by SendTestEmail.
func testEmail(station string) (subject, body string) {
	return "[TEST] " + AppName + " - " + station,
		"This is a test notification from " + AppName + ".\n\nTime: " + util.HumanTime(time.Now())
}
