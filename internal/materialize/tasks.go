package materialize

import (
	"path/filepath"

	"github.com/koster-lab/kso-agent/internal/schedule"
	"github.com/koster-lab/kso-agent/internal/transcode"
)

// ClipDir is where the clips of a movie are written.
func ClipDir(outDir, movieStem string) string {
	return filepath.Join(outDir, movieStem+"_clips")
}

// ModifiedClipDir is where re-encoded clips of a movie are written.
func ModifiedClipDir(outDir, movieStem string) string {
	return filepath.Join(outDir, "modified_"+movieStem+"_clips")
}

func ClipTasks(plan *schedule.ClipPlan, moviePath, outDir string) []Task {
	dir := ClipDir(outDir, plan.Movie.Stem())
	tasks := make([]Task, 0, len(plan.Candidates))
	for _, c := range plan.Candidates {
		tasks = append(tasks, Task{
			Kind:   KindClip,
			Input:  moviePath,
			Output: filepath.Join(dir, c.Filename),
			Start:  c.Start,
			Length: c.Length,
		})
	}
	return tasks
}

// ModifyTasks re-encodes each clip path with preset.
func ModifyTasks(clipPaths []string, preset transcode.Preset, outDir, movieStem string) []Task {
	dir := ModifiedClipDir(outDir, movieStem)
	tasks := make([]Task, 0, len(clipPaths))
	for _, p := range clipPaths {
		tasks = append(tasks, Task{
			Kind:   KindModify,
			Input:  p,
			Output: filepath.Join(dir, "modified_"+filepath.Base(p)),
			Preset: preset,
		})
	}
	return tasks
}

func FrameTasks(plan *schedule.FramePlan, outDir string) []Task {
	dir := filepath.Join(outDir, "frames")
	tasks := make([]Task, 0, len(plan.Candidates))
	for _, c := range plan.Candidates {
		tasks = append(tasks, Task{
			Kind:    KindFrame,
			Input:   c.MoviePath,
			Output:  filepath.Join(dir, c.Filename),
			Seconds: c.Seconds(),
		})
	}
	return tasks
}
