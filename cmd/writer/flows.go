package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/contextual-writer/internal/editor"
	"github.com/ashureev/contextual-writer/internal/flow"
	"github.com/spf13/cobra"
)

func newSuggestCmd(opts *options) *cobra.Command {
	var request, contextFile string
	cmd := &cobra.Command{
		Use:   "suggest",
		Short: "Ranked suggestions for a writing context (context from stdin or --context-file)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readFile(contextFile)
			if err != nil {
				return err
			}
			if text == "" {
				if text, err = input(cmd, ""); err != nil {
					return err
				}
			}
			svc, err := opts.service()
			if err != nil {
				return err
			}
			resp, err := svc.Suggest(commandContext(cmd), flow.SuggestionRequest{Request: request, Context: text})
			if err != nil {
				return err
			}

			var sb strings.Builder
			for i, s := range resp.Suggestions {
				fmt.Fprintf(&sb, "%d. %s\n   %s\n", i+1, s.Suggestion, s.Reasoning)
			}
			return opts.print(cmd.OutOrStdout(), resp, strings.TrimRight(sb.String(), "\n"))
		},
	}
	cmd.Flags().StringVarP(&request, "request", "r", editor.SuggestionPrompt, "what to suggest")
	cmd.Flags().StringVar(&contextFile, "context-file", "", "file holding the writing context")
	return cmd
}

func newContinueCmd(opts *options) *cobra.Command {
	var text, savedContextFile string
	var full bool
	cmd := &cobra.Command{
		Use:   "continue",
		Short: "Continue text from --text or stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			existing, err := input(cmd, text)
			if err != nil {
				return err
			}
			saved, err := readFile(savedContextFile)
			if err != nil {
				return err
			}
			svc, err := opts.service()
			if err != nil {
				return err
			}

			doc := editor.FromState(editor.State{Text: existing, SavedContext: saved})
			continued, err := editor.NewSession(doc, svc, "").Continue(commandContext(cmd))
			if err != nil {
				return err
			}

			out := continued
			if full {
				out = doc.Snapshot().Text
			}
			return opts.print(cmd.OutOrStdout(), flow.ContinuationResponse{ContinuedText: continued}, out)
		},
	}
	cmd.Flags().StringVarP(&text, "text", "t", "", "existing text (default stdin)")
	cmd.Flags().StringVar(&savedContextFile, "saved-context-file", "", "file holding saved context")
	cmd.Flags().BoolVar(&full, "full", false, "print the existing text followed by the continuation")
	return cmd
}

func newReviseCmd(opts *options) *cobra.Command {
	var selection, instructions string
	var start, end int
	cmd := &cobra.Command{
		Use:   "revise",
		Short: "Revise a span of the document read from stdin",
		Long: "Revise the byte range --start/--end, or the text given by --selection when it occurs\n" +
			"exactly once. Without either, the whole document is revised.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			document, err := input(cmd, "")
			if err != nil {
				return err
			}
			byOffset := cmd.Flags().Changed("start") || cmd.Flags().Changed("end")
			if byOffset && selection != "" {
				return errors.New("use either --selection or --start/--end")
			}

			svc, err := opts.service()
			if err != nil {
				return err
			}
			doc := editor.New(document)
			sess := editor.NewSession(doc, svc, "")

			if !byOffset && selection == "" {
				resp, err := sess.GlobalEdit(commandContext(cmd), instructions)
				if err != nil {
					return err
				}
				return opts.print(cmd.OutOrStdout(), resp, doc.Snapshot().Text)
			}

			if !byOffset {
				if start, err = uniqueSpan(document, selection); err != nil {
					return err
				}
				end = start + len(selection)
			} else if !cmd.Flags().Changed("end") {
				end = len(document)
			}
			sel, err := doc.Select(start, end)
			if err != nil {
				return err
			}
			resp, err := sess.ReviseSelection(commandContext(cmd), sel, instructions)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), resp, doc.Snapshot().Text)
		},
	}
	cmd.Flags().StringVarP(&selection, "selection", "s", "", "text to revise; must occur exactly once")
	cmd.Flags().IntVar(&start, "start", 0, "byte offset where the revised span starts")
	cmd.Flags().IntVar(&end, "end", 0, "byte offset where the revised span ends (default end of document)")
	cmd.Flags().StringVarP(&instructions, "instructions", "i", "", "revision request (default \""+editor.DefaultInstruction+"\")")
	return cmd
}

// uniqueSpan returns the offset of selection in document. Repeated text is
// ambiguous and must be addressed by offsets instead.
func uniqueSpan(document, selection string) (int, error) {
	switch n := strings.Count(document, selection); {
	case n == 0:
		return 0, errors.New("selection not found in document")
	case n > 1:
		return 0, fmt.Errorf("selection occurs %d times in document; use --start/--end", n)
	}
	return strings.Index(document, selection), nil
}

func newOutlineCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "outline",
		Short: "Plotline outline for the context read from stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := input(cmd, "")
			if err != nil {
				return err
			}
			svc, err := opts.service()
			if err != nil {
				return err
			}
			resp, err := svc.Outline(commandContext(cmd), flow.OutlineRequest{Context: text})
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), resp, resp.Outline)
		},
	}
	return cmd
}
