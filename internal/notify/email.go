package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/oszuidwest/zwfm-soundwatch/internal/types"
	"github.com/oszuidwest/zwfm-soundwatch/internal/util"
)

// alertEmail formats the subject and body of a threshold alert email.
func alertEmail(stationName string, alert *types.Alert) (subject, body string) {
	maxes := make([]string, len(alert.MaxAmplitudes))
	for i, v := range alert.MaxAmplitudes {
		maxes[i] = fmt.Sprintf("%.0f", v)
	}
	subject = "[ALERT] Sound Threshold Exceeded - " + stationName
	body = fmt.Sprintf(
		"The sound level exceeded the configured threshold.\n\n"+
			"Peak:      %.0f\n"+
			"Threshold: %.0f\n"+
			"Maxima:    %s\n"+
			"Time:      %s\n"+
			"Alert ID:  %s\n\n"+
			"The amplitude plot and a recording are attached when available.",
		alert.Peak(), alert.Threshold, strings.Join(maxes, ", "),
		util.FormatHumanTime(alert.At), alert.ID,
	)
	return subject, body
}

func alertAttachments(alert *types.Alert) []EmailAttachment {
	var out []EmailAttachment
	if len(alert.Plot) > 0 {
		out = append(out, EmailAttachment{Filename: "plot.png", ContentType: "image/png", Data: alert.Plot})
	}
	if alert.Clip != nil {
		out = append(out, EmailAttachment{Filename: alert.Clip.Filename, ContentType: alert.Clip.MIME, Data: alert.Clip.Data})
	}
	return out
}

// SendAlertEmail mails a threshold alert with its plot and clip attached.
func SendAlertEmail(ctx context.Context, client *GraphClient, cfg *types.GraphConfig, stationName string, alert *types.Alert) error {
	subject, body := alertEmail(stationName, alert)
	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), subject, body, alertAttachments(alert)...); err != nil {
		return util.WrapError("send email via Graph", err)
	}
	return nil
}

// SendTestEmail sends a test email to verify email configuration.
func SendTestEmail(ctx context.Context, cfg *types.GraphConfig, stationName string) error {
	client, err := NewGraphClient(cfg)
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	body := fmt.Sprintf(
		"Test email from %s.\n\nTime: %s\n\nMicrosoft Graph configuration is working correctly.",
		AppName, util.HumanTime(),
	)
	if err := client.SendMail(ctx, ParseRecipients(cfg.Recipients), "[TEST] "+stationName, body); err != nil {
		return util.WrapError("send email", err)
	}
	return nil
}
