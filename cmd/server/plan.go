package main

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/cobra"

	"github.com/wavecast/api/internal/ffmpeg"
	"github.com/wavecast/api/internal/model"
)

// planFields are the render options accepted as flags, matching the upload form.
var planFields = []string{
	"style", "resolution", "fps", "mode", "color", "secondary_color",
	"colors", "background", "start", "duration", "normalize",
}

func newPlanCommand() *cobra.Command {
	var (
		input  string
		cover  string
		output string
		binary string
	)
	values := make(map[string]*string, len(planFields))

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Print the ffmpeg command for a set of render options",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			form, err := model.ParseRenderForm(func(key string) string {
				if v, ok := values[key]; ok {
					return *v
				}
				return ""
			})
			if err != nil {
				return err
			}

			v := validator.New()
			if err := model.RegisterValidations(v); err != nil {
				return err
			}
			if err := v.Struct(form); err != nil {
				return fmt.Errorf("invalid options: %w", err)
			}

			params, err := form.Params(cover != "")
			if err != nil {
				return err
			}

			built, err := ffmpeg.Build(ffmpeg.Request{
				Binary:     binary,
				Params:     params,
				InputPath:  input,
				CoverPath:  cover,
				OutputPath: output,
			})
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), built.String())
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&input, "input", "i", "", "Audio input path")
	flags.StringVar(&cover, "cover", "", "Cover image path")
	flags.StringVarP(&output, "output", "o", "out.mp4", "Output path")
	flags.StringVar(&binary, "ffmpeg", ffmpeg.DefaultBinary, "ffmpeg executable")
	for _, name := range planFields {
		values[name] = flags.String(name, "", "Render option "+name)
	}
	_ = cmd.MarkFlagRequired("input")

	return cmd
}
