package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/shibukawa/tokenlab/internal/token"
)

// PredictCmd computes vulnerable tokens offline.
type PredictCmd struct {
	UserIDs []string `arg:"" name:"user_id" help:"User ids to predict tokens for"`
	Quiet   bool     `short:"q" help:"Print only the tokens, one per line"`

	out io.Writer `kong:"-"`
}

// Run prints the token /vulnerable/forgot-password issues for each user id.
func (cmd *PredictCmd) Run() error {
	out := cmd.out
	if out == nil {
		out = os.Stdout
	}

	if !cmd.Quiet {
		fmt.Fprintln(out, color.YellowString("🔮 Every vulnerable token ends with %d", token.PredictedSuffix()))
	}
	for _, userID := range cmd.UserIDs {
		tok := token.GenerateVulnerableToken(userID)
		if cmd.Quiet {
			fmt.Fprintln(out, tok)
			continue
		}
		fmt.Fprintf(out, "  %s → %s\n", color.GreenString("%q", userID), tok)
	}
	return nil
}
