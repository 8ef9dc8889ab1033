// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"strings"

	"github.com/kadirpekel/quaero/pkg/engine"
	"github.com/kadirpekel/quaero/pkg/selector"
)

// AskCmd answers one question and exits.
type AskCmd struct {
	Query []string `arg:"" help:"The question to answer."`

	Web        bool     `help:"Also search the web."`
	Repository bool     `help:"Also search the document repository."`
	Groups     []string `help:"Access groups to assume for repository scoping."`
	NoValidate bool     `help:"Skip the answer validation pass."`
	Trace      bool     `help:"Print the thought trace after the answer."`
}

func (c *AskCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	app, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	var overrides selector.Overrides
	if c.Web {
		t := true
		overrides.UseWeb = &t
	}
	if c.Repository {
		t := true
		overrides.UseRepo = &t
	}
	var validate *bool
	if c.NoValidate {
		f := false
		validate = &f
	}

	events, err := app.engine.Ask(ctx, engine.Request{
		Query:        strings.Join(c.Query, " "),
		Overrides:    overrides,
		AccessGroups: c.Groups,
		Validate:     validate,
	})
	if err != nil {
		return err
	}

	var final *engine.Answer
	for ev := range events {
		switch ev.Type {
		case engine.EventDelta:
			fmt.Print(ev.Delta)
		case engine.EventFinal:
			final = ev.Final
		case engine.EventError:
			return fmt.Errorf("%s", ev.Error)
		}
	}
	fmt.Println()

	if final == nil {
		return fmt.Errorf("no answer produced")
	}

	// The validator may have replaced the streamed text.
	if streamedDiffers(final) {
		fmt.Println("\n--- corrected answer ---")
		fmt.Println(final.Answer)
	}

	if len(final.Documents) > 0 {
		fmt.Println("\nSources:")
		for _, doc := range final.Documents {
			fmt.Printf("  [%s] (%s, score %.2f)\n", doc.Citation, doc.Source, doc.Score)
		}
	}

	if c.Trace {
		fmt.Println("\nTrace:")
		for _, step := range final.Trace {
			fmt.Printf("  %-18s %s", step.Stage, step.Title)
			if step.Description != "" {
				fmt.Printf(" (%s)", step.Description)
			}
			fmt.Println()
		}
	}
	return nil
}

// streamedDiffers reports whether validation replaced the generated
// answer, which the streamed deltas could not reflect.
func streamedDiffers(final *engine.Answer) bool {
	return final.Validation != nil &&
		!final.Validation.IsValid &&
		final.Validation.CorrectedAnswer == final.Answer &&
		final.Validation.CorrectedAnswer != ""
}
