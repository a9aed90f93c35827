package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"brand-camera-server/modules/common/model"
	"brand-camera-server/modules/common/utils"
	"brand-camera-server/modules/taskstore"
)

// clientFlags - generate / tasks 서브커맨드 공통 옵션
type clientFlags struct {
	server    string
	token     string
	storePath string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&f.server, "server", envOr("BRAND_CAMERA_SERVER", "http://localhost:8080"), "API base URL")
	cmd.PersistentFlags().StringVar(&f.token, "token", os.Getenv("BRAND_CAMERA_TOKEN"), "Bearer token")
	cmd.PersistentFlags().StringVar(&f.storePath, "store", taskstore.DefaultPath(), "Local task store file")
}

func (f *clientFlags) store() *taskstore.Store {
	return taskstore.New(taskstore.WithPersister(taskstore.NewFilePersister(f.storePath)))
}

func (f *clientFlags) client(store *taskstore.Store) *taskstore.APIClient {
	return taskstore.NewAPIClient(f.server, f.token, store, nil)
}

func newGenerateCmd() *cobra.Command {
	flags := &clientFlags{}

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Submit a generation task to a running server",
		Long: `Submits a task and follows it until every slot has finished.

Image arguments accept a local file (sent inline), an http(s) URL,
a preset id, or "random".`,
	}
	flags.register(cmd)

	cmd.AddCommand(newGenerateLifestyleCmd(flags))
	cmd.AddCommand(newGenerateProStudioCmd(flags))
	cmd.AddCommand(newGenerateSingleCmd(flags))

	return cmd
}

func newGenerateLifestyleCmd(flags *clientFlags) *cobra.Command {
	var modelID, sceneID string

	cmd := &cobra.Command{
		Use:   "lifestyle <product-image>",
		Short: "Generate lifestyle shots with AI-matched models and scenes",
		Example: `  brand-camera generate lifestyle ./dress.jpg
  brand-camera generate lifestyle https://cdn.example.com/dress.png --scene ls-cafe-terrace`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := imageArg(args[0])
			if err != nil {
				return err
			}
			store := flags.store()
			stop := watch(cmd.OutOrStdout(), store)
			defer stop()

			task, err := flags.client(store).GenerateLifestyle(cmd.Context(), taskstore.LifestyleInput{
				ProductImage: product,
				ModelID:      modelID,
				SceneID:      sceneID,
			})
			printTask(cmd.OutOrStdout(), task)
			return err
		},
	}

	cmd.Flags().StringVar(&modelID, "model", "", "Catalog model id used for every slot")
	cmd.Flags().StringVar(&sceneID, "scene", "", "Catalog scene id used for every slot")

	return cmd
}

func newGenerateProStudioCmd(flags *clientFlags) *cobra.Command {
	var (
		items        []string
		modelRef     string
		background   string
		mode         string
		aspectRatio  string
		customPrompt string
		count        int
	)

	cmd := &cobra.Command{
		Use:   "pro-studio",
		Short: "Generate studio shots of a model wearing the outfit items",
		Example: `  brand-camera generate pro-studio --item top=./shirt.jpg --item bottom=./jeans.jpg --model random
  brand-camera generate pro-studio --item dress=./dress.jpg --model model-03 --background random --mode extended`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(items) == 0 {
				return fmt.Errorf("at least one --item is required")
			}
			outfit := make([]map[string]interface{}, 0, len(items))
			for _, raw := range items {
				category, ref, ok := strings.Cut(raw, "=")
				if !ok || category == "" || ref == "" {
					return fmt.Errorf("invalid --item %q, want category=image", raw)
				}
				image, err := imageArg(ref)
				if err != nil {
					return err
				}
				outfit = append(outfit, map[string]interface{}{"category": category, "image": image})
			}
			modelImage, err := imageArg(modelRef)
			if err != nil {
				return err
			}
			payload := map[string]interface{}{
				"outfitItems":   outfit,
				"modelImage":    modelImage,
				"mode":          mode,
				"modelIsRandom": strings.EqualFold(modelRef, "random"),
				"bgIsRandom":    strings.EqualFold(background, "random"),
			}
			if background != "" {
				bg, err := imageArg(background)
				if err != nil {
					return err
				}
				payload["backgroundImage"] = bg
			}
			if aspectRatio != "" {
				payload["aspectRatio"] = aspectRatio
			}
			if customPrompt != "" {
				payload["customPrompt"] = customPrompt
			}
			// 로컬 태스크 파일에는 data URL 대신 원래 인자를 기록
			_, first, _ := strings.Cut(items[0], "=")

			return runSlots(cmd, flags, func(ctx context.Context, c *taskstore.APIClient) (model.GenerationTask, error) {
				return c.GenerateProStudio(ctx, taskstore.SlotInput{Payload: payload, Count: count, InputImage: first})
			})
		},
	}

	cmd.Flags().StringArrayVar(&items, "item", nil, "Outfit item as category=image (repeatable)")
	cmd.Flags().StringVar(&modelRef, "model", "random", "Model image")
	cmd.Flags().StringVar(&background, "background", "", "Background image (omit for a plain studio)")
	cmd.Flags().StringVar(&mode, "mode", string(model.GenSimple), "simple or extended")
	cmd.Flags().StringVar(&aspectRatio, "aspect", "", "Output aspect ratio, e.g. 3:4")
	cmd.Flags().StringVar(&customPrompt, "prompt", "", "Extra instructions appended to the prompt")
	cmd.Flags().IntVarP(&count, "count", "n", 4, "Number of slots")

	return cmd
}

func newGenerateSingleCmd(flags *clientFlags) *cobra.Command {
	var (
		shotType    string
		modelRef    string
		background  string
		extended    bool
		aspectRatio string
		count       int
	)

	cmd := &cobra.Command{
		Use:   "single <product-image>",
		Short: "Generate product or model shots",
		Example: `  brand-camera generate single ./bag.jpg --type product
  brand-camera generate single ./bag.jpg --type model --model model-03 --extended`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			product, err := imageArg(args[0])
			if err != nil {
				return err
			}
			payload := map[string]interface{}{
				"type":         shotType,
				"productImage": product,
				"simpleMode":   !extended,
			}
			if modelRef != "" {
				m, err := imageArg(modelRef)
				if err != nil {
					return err
				}
				payload["modelImage"] = m
			}
			if background != "" {
				bg, err := imageArg(background)
				if err != nil {
					return err
				}
				payload["backgroundImage"] = bg
			}
			if aspectRatio != "" {
				payload["aspectRatio"] = aspectRatio
			}

			return runSlots(cmd, flags, func(ctx context.Context, c *taskstore.APIClient) (model.GenerationTask, error) {
				return c.GenerateSingle(ctx, taskstore.SlotInput{Payload: payload, Count: count, InputImage: args[0]})
			})
		},
	}

	cmd.Flags().StringVar(&shotType, "type", "product", "product or model")
	cmd.Flags().StringVar(&modelRef, "model", "", "Model image (required for --type model)")
	cmd.Flags().StringVar(&background, "background", "", "Background image")
	cmd.Flags().BoolVar(&extended, "extended", false, "Write a photography brief before generating")
	cmd.Flags().StringVar(&aspectRatio, "aspect", "", "Output aspect ratio, e.g. 1:1")
	cmd.Flags().IntVarP(&count, "count", "n", 1, "Number of slots")

	return cmd
}

func runSlots(cmd *cobra.Command, flags *clientFlags, run func(context.Context, *taskstore.APIClient) (model.GenerationTask, error)) error {
	store := flags.store()
	stop := watch(cmd.OutOrStdout(), store)
	defer stop()

	task, err := run(cmd.Context(), flags.client(store))
	printTask(cmd.OutOrStdout(), task)
	return err
}

// watch - 슬롯 상태가 바뀔 때마다 한 줄 출력
func watch(out io.Writer, store *taskstore.Store) func() {
	var mu sync.Mutex
	seen := map[string]model.Status{}
	return store.Subscribe(func(task model.GenerationTask) {
		mu.Lock()
		defer mu.Unlock()
		for _, s := range task.ImageSlots {
			key := fmt.Sprintf("%s/%d", task.ID, s.Index)
			if seen[key] == s.Status {
				continue
			}
			seen[key] = s.Status
			switch s.Status {
			case model.StatusCompleted:
				fmt.Fprintf(out, "  ✅ slot %d  %s (%s)\n", s.Index, s.ImageURL, s.ModelType)
			case model.StatusFailed:
				fmt.Fprintf(out, "  ❌ slot %d  %s\n", s.Index, s.Error)
			case model.StatusGenerating:
				fmt.Fprintf(out, "  ⏳ slot %d  generating\n", s.Index)
			}
		}
	})
}

func printTask(out io.Writer, task model.GenerationTask) {
	if task.ID == "" {
		return
	}
	done := 0
	for _, s := range task.ImageSlots {
		if s.Status == model.StatusCompleted {
			done++
		}
	}
	fmt.Fprintf(out, "%s  %s  %s  %d/%d images", task.ID, task.Type, task.Status, done, task.TotalSlots)
	if task.Error != "" {
		fmt.Fprintf(out, "  (%s)", task.Error)
	}
	fmt.Fprintln(out)
}

// imageArg - 로컬 파일이면 data URL 로 변환, 아니면 그대로 전달
func imageArg(s string) (string, error) {
	if s == "" || strings.Contains(s, "://") || strings.HasPrefix(s, "data:") {
		return s, nil
	}
	info, err := os.Stat(s)
	if err != nil || info.IsDir() {
		return s, nil
	}
	data, err := os.ReadFile(s)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", s, err)
	}
	return "data:" + utils.DetectMIME(data) + ";base64," + utils.ConvertImageToBase64(data), nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
