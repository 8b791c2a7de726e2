package buildsys

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
	"github.com/rotisserie/eris"
	"github.com/schollz/progressbar/v3"
)

func newProgressBar(length int, desc string, visible bool) *progressbar.ProgressBar {
	if !visible || os.Getenv("CI") == "true" {
		return progressbar.NewOptions(length, progressbar.OptionSetVisibility(false))
	}

	return progressbar.NewOptions(length,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionShowCount(),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(os.Stderr, "\n")
		}),
	)
}

func countFiles(root string) (int, error) {
	count := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			count++
		}
		return nil
	})
	return count, err
}

// copyAssets mirrors each asset folder from sourceDir into destDir. Existing files are
// overwritten, files that only exist in the destination are left alone.
func copyAssets(ctx context.Context, sourceDir, destDir string, folders []string, progress bool) error {
	for _, folder := range folders {
		if err := ctx.Err(); err != nil {
			return err
		}

		src := filepath.Join(sourceDir, folder)
		dest := filepath.Join(destDir, folder)

		info, err := os.Stat(src)
		if err != nil {
			return eris.Wrapf(err, "asset folder %s is missing", src)
		}
		if !info.IsDir() {
			return eris.Errorf("asset folder %s is not a directory", src)
		}

		total, err := countFiles(src)
		if err != nil {
			return eris.Wrapf(err, "failed to scan %s", src)
		}

		bar := newProgressBar(total, "copying "+folder, progress)
		err = copy.Copy(src, dest, copy.Options{
			OnDirExists: func(src, dest string) copy.DirExistsAction {
				return copy.Merge
			},
			Skip: func(srcinfo os.FileInfo, src, dest string) (bool, error) {
				if !srcinfo.IsDir() {
					bar.Add(1)
				}
				return false, nil
			},
		})
		bar.Finish()
		if err != nil {
			return eris.Wrapf(err, "failed to copy %s to %s", src, dest)
		}

		log(ctx).Debug().
			Str("path", dest).
			Int("files", total).
			Msgf("Copied %s", folder)
	}

	return nil
}
