package mail

import (
	"fmt"
	"strings"
)

// InvitationEmail composes the project invitation message. The link carries
// the raw token and is the only place it ever appears.
func InvitationEmail(to, projectName, role, inviterName, link string, expiryDays int, personalMessage string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\r\n\r\n")
	if inviterName != "" {
		fmt.Fprintf(&b, "%s has invited you to join the project %q as %s.\r\n\r\n", inviterName, projectName, role)
	} else {
		fmt.Fprintf(&b, "You have been invited to join the project %q as %s.\r\n\r\n", projectName, role)
	}
	if personalMessage != "" {
		fmt.Fprintf(&b, "Message from the project team:\r\n%s\r\n\r\n", personalMessage)
	}
	fmt.Fprintf(&b, "Accept the invitation here:\r\n%s\r\n\r\n", link)
	fmt.Fprintf(&b, "This link expires in %d days.\r\n", expiryDays)

	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("Invitation to join %s", projectName),
		Body:    b.String(),
	}
}

// KYCDecisionEmail notifies a stakeholder about the outcome of a review.
func KYCDecisionEmail(to, verificationType, status, notes string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\r\n\r\nYour %s verification has been %s.\r\n", strings.ToLower(verificationType), strings.ToLower(status))
	if notes != "" {
		fmt.Fprintf(&b, "\r\nReviewer notes:\r\n%s\r\n", notes)
	}

	return Message{
		To:      []string{to},
		Subject: "Verification review update",
		Body:    b.String(),
	}
}

// OnboardingReminderEmail nudges a stakeholder to finish their remaining steps.
func OnboardingReminderEmail(to string, remainingSteps []string) Message {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello,\r\n\r\nYour onboarding is not finished yet. Remaining steps:\r\n")
	for _, step := range remainingSteps {
		fmt.Fprintf(&b, "  - %s\r\n", step)
	}
	fmt.Fprintf(&b, "\r\nSign in to continue where you left off.\r\n")

	return Message{
		To:      []string{to},
		Subject: "Finish setting up your account",
		Body:    b.String(),
	}
}
