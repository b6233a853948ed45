package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AlecAivazis/survey/v2"
	"github.com/fatih/color"

	"github.com/nodebridge/relay/pkg/log"
	"github.com/nodebridge/relay/pkg/types"
)

// TerminalConfirm asks the operator sitting at this machine to
// approve a pending CONFIRM-tier action. It blocks on stdin in a
// background goroutine so the caller's context timeout (300s, per
// §3 PendingApproval) is honoured even if the operator never answers.
func TerminalConfirm(ctx context.Context, requestID, action string, params types.Params) (bool, error) {
	border := strings.Repeat("=", 60)
	summary := "{}"
	if len(params) > 0 {
		if b, err := json.MarshalIndent(params, "", "  "); err == nil {
			summary = string(b)
		}
	}

	banner := color.New(color.FgYellow, color.Bold)
	fmt.Println()
	banner.Println(border)
	banner.Println("  CONFIRM-TIER ACTION REQUESTED")
	banner.Println(border)
	fmt.Printf("  Request ID : %s\n", requestID)
	fmt.Printf("  Action     : %s\n", action)
	fmt.Println("  Parameters :")
	for _, line := range strings.Split(summary, "\n") {
		fmt.Println("    " + line)
	}
	banner.Println(border)

	type answer struct {
		approved bool
		err      error
	}
	result := make(chan answer, 1)

	go func() {
		approved := false
		prompt := &survey.Confirm{Message: "Approve execution?", Default: false}
		err := survey.AskOne(prompt, &approved)
		result <- answer{approved: approved, err: err}
	}()

	select {
	case a := <-result:
		if a.err != nil {
			log.Error("operator prompt failed: " + a.err.Error())
			return false, nil
		}
		if a.approved {
			log.WithRequestID(requestID).Info().Str("action", action).Msg("operator approved action")
		} else {
			log.WithRequestID(requestID).Info().Str("action", action).Msg("operator denied action")
		}
		return a.approved, nil
	case <-ctx.Done():
		log.WithRequestID(requestID).Warn().Str("action", action).Msg("operator prompt timed out, denying")
		return false, nil
	}
}
