package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/lsm/rolewatch/internal/auth"
	"github.com/lsm/rolewatch/internal/config"
	"github.com/lsm/rolewatch/internal/failure"
	"github.com/lsm/rolewatch/internal/schedule"
)

const validateUsage = `Usage: rolewatch validate [flags]

Checks the configuration and that every credential secret is present in the
environment. With -resolve, every credential is also exchanged for a header,
which contacts the token endpoints.

Flags:`

// RunValidate checks configuration without running the pipeline.
func RunValidate(args []string, stdout io.Writer) error {
	if stdout == nil {
		stdout = os.Stdout
	}

	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	var common commonFlags
	common.register(fs)
	resolve := fs.Bool("resolve", false, "resolve every credential against its token endpoint")
	timeout := fs.Duration("timeout", 30*time.Second, "timeout for -resolve")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), validateUsage)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(common.configPath)
	if err != nil {
		return err
	}

	var errs []error
	if err := cfg.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := schedule.Validate(cfg.Schedule); err != nil {
		errs = append(errs, failure.Configuration("%w", err))
	}
	if _, err := compileFilter(cfg.Filter); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}

	specs, err := cfg.Specs()
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Configuration valid: %d credential(s), schedule %q, timezone %s\n",
		len(specs), cfg.Schedule, cfg.Report.Timezone)

	if !*resolve {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	headers, err := auth.NewResolver(nil).ResolveAll(ctx, specs)
	if err != nil {
		return failure.At(err, failure.StageCredentials, "")
	}
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(stdout, "  ✓ %s resolved\n", name)
	}
	return nil
}
