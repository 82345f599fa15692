package cli

import (
	"fmt"
	"path/filepath"

	"github.com/jfima/amanu/internal/config"
	"github.com/jfima/amanu/internal/cost"
	"github.com/jfima/amanu/internal/httpapi"
	"github.com/jfima/amanu/internal/jobstore"
	"github.com/jfima/amanu/internal/models"
	"github.com/jfima/amanu/internal/pipeline"
	"github.com/jfima/amanu/internal/pipeline/stages"
	"github.com/jfima/amanu/internal/plugins"
	"github.com/jfima/amanu/internal/plugins/markdown"
	"github.com/jfima/amanu/internal/providers"
	"github.com/jfima/amanu/internal/providers/localengine"
	"github.com/jfima/amanu/internal/providers/openaicloud"
	"github.com/jfima/amanu/internal/templates"
	"github.com/jfima/amanu/internal/watcher"
	"github.com/jfima/amanu/pkg/logger"
)

// app bundles every component a CLI command needs, built once per invocation from the loaded
// config. Commands pull only what they use.
type app struct {
	cfg       *config.Config
	store     *jobstore.FSStore
	providers *providers.Registry
	templates *templates.Registry
	plugins   *plugins.Registry
	driver    *pipeline.Driver
}

// buildApp wires the job store, provider/template/plugin registries, and the pipeline driver
// from cfg. Every command in this package calls this once before doing anything else.
func buildApp(cfg *config.Config) (*app, error) {
	store := jobstore.New(cfg.WorkDir)

	provReg, err := providers.NewRegistry(cfg.ProvidersDir)
	if err != nil {
		return nil, fmt.Errorf("discover providers: %w", err)
	}
	provReg.RegisterFactory("openaicloud", openaicloud.New)
	provReg.RegisterFactory("localengine", localengine.New)

	tmplReg, err := templates.Load(cfg.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	pluginReg := plugins.NewRegistry()
	pluginReg.Register(markdown.New())

	executors := map[models.Stage]pipeline.Executor{
		models.StageIngest: &stages.Ingest{
			FFmpegPath:  cfg.FFmpegPath,
			FFprobePath: cfg.FFprobePath,
			Registry:    provReg,
		},
		models.StageScribe: &stages.Scribe{
			Registry:   provReg,
			RetryMax:   cfg.RetryMax,
			RetryDelay: cfg.RetryDelaySeconds,
		},
		models.StageRefine: &stages.Refine{
			Registry:  provReg,
			Templates: tmplReg,
		},
		models.StageGenerate: &stages.Generate{
			Plugins:   pluginReg,
			Templates: tmplReg,
		},
		models.StageShelve: &stages.Shelve{
			ResultsDir:      cfg.ResultsDir,
			FilenamePattern: cfg.ShelveFilenamePattern,
		},
	}

	driver := pipeline.New(store, executors, jobstore.Finalize)
	driver.OnValidateConfig(validateConfiguration(provReg, tmplReg, pluginReg))

	return &app{
		cfg:       cfg,
		store:     store,
		providers: provReg,
		templates: tmplReg,
		plugins:   pluginReg,
		driver:    driver,
	}, nil
}

// validateConfiguration builds the pre-Create validation hook the driver runs before a job's
// working directory exists: unknown provider/model/template/plugin and template schema
// conflicts all fail here instead of surfacing mid-REFINE with an orphaned job directory
// already on disk. It uses Descriptor, not Transcriber/Refiner, so a validation pass never
// forces provider instantiation (and its credential requirements) just to check a name.
func validateConfiguration(provReg *providers.Registry, tmplReg *templates.Registry, pluginReg *plugins.Registry) func(models.Configuration) error {
	return func(cfg models.Configuration) error {
		if !cfg.SkipTranscript {
			if err := validateProvider(provReg, cfg.TranscribeProvider, cfg.TranscribeModel, models.CapabilityTranscription); err != nil {
				return err
			}
		}
		if err := validateProvider(provReg, cfg.RefineProvider, cfg.RefineModel, models.CapabilityRefinement); err != nil {
			return err
		}
		for _, artifact := range cfg.Artifacts {
			if _, ok := pluginReg.Get(artifact.Plugin); !ok {
				return fmt.Errorf("artifact plugin %q: not registered", artifact.Plugin)
			}
			if _, ok := tmplReg.Get(artifact.Template); !ok {
				return fmt.Errorf("artifact template %q: not found", artifact.Template)
			}
		}
		if _, err := tmplReg.AssembleSchema(cfg.Artifacts); err != nil {
			return err
		}
		return nil
	}
}

// validateProvider checks that name is a discovered provider declaring capability c and, when
// model is set, that it appears in the provider's advertised model list.
func validateProvider(provReg *providers.Registry, name, model string, c models.Capability) error {
	desc, ok := provReg.Descriptor(name)
	if !ok {
		return fmt.Errorf("provider %q: not discovered", name)
	}
	if !desc.HasCapability(c) {
		return fmt.Errorf("provider %q: does not declare %s capability", name, c)
	}
	if model == "" || len(desc.Models) == 0 {
		return nil
	}
	for _, m := range desc.Models {
		if m == model {
			return nil
		}
	}
	return fmt.Errorf("provider %q: model %q is not in its advertised model list", name, model)
}

// defaultConfiguration builds a models.Configuration from the process config's defaults,
// snapshotted at job-creation time the way spec.md requires.
func (a *app) defaultConfiguration() models.Configuration {
	return models.Configuration{
		TranscribeProvider: a.cfg.DefaultTranscribeProvider,
		TranscribeModel:    a.cfg.DefaultTranscribeModel,
		RefineProvider:     a.cfg.DefaultRefineProvider,
		RefineModel:        a.cfg.DefaultRefineModel,
		CompressionMode:    a.cfg.DefaultCompressionMode,
		Language:           a.cfg.DefaultLanguage,
		Artifacts:          a.defaultArtifacts(),
		ShelveMode:         a.cfg.DefaultShelveMode,
		Debug:              a.cfg.Debug,
	}
}

// defaultArtifacts parses DEFAULT_ARTIFACTS's "plugin/template[:filename]" entries, logging
// and dropping any that don't parse rather than failing job creation over one bad entry.
func (a *app) defaultArtifacts() []models.Artifact {
	var out []models.Artifact
	for _, spec := range a.cfg.DefaultArtifacts {
		artifact, err := models.ParseArtifactSpec(spec)
		if err != nil {
			logger.Warn("skipping invalid DEFAULT_ARTIFACTS entry", "spec", spec, "error", err)
			continue
		}
		out = append(out, artifact)
	}
	return out
}

// costIndexPath returns the derived SQLite report index's path, rooted under WorkDir so it
// travels with the rest of the job state.
func (a *app) costIndexPath() string {
	return filepath.Join(a.cfg.WorkDir, ".report-index.sqlite")
}

// openCostIndex opens (creating if absent) the derived report index.
func (a *app) openCostIndex() (*cost.Index, error) {
	return cost.Open(a.costIndexPath())
}

// recordUsage mirrors job's per-stage usage into the derived report index, best-effort: the
// filesystem stays the source of truth, so a failure here is logged, not returned.
func (a *app) recordUsage(job *models.Job) {
	index, err := a.openCostIndex()
	if err != nil {
		return
	}
	defer index.Close()
	_ = index.RecordJob(job)
}

// newWatcher builds a Watcher submitting into this app's driver, using cfg's watch debounce
// and input directory unless overridden.
func (a *app) newWatcher(inputDir string) *watcher.Watcher {
	if inputDir == "" {
		inputDir = a.cfg.InputDir
	}
	debounce := a.cfg.WatchDebounceMS
	return watcher.New(inputDir, msToDuration(debounce), a.driver, a.defaultConfiguration())
}

// statusServer builds the optional read-only status HTTP surface, generating and persisting a
// dev JWT signing secret the first time it is started.
func (a *app) statusServer(index *cost.Index) (*httpapi.Server, error) {
	if a.cfg.StatusTokenHash == "" {
		return nil, fmt.Errorf("STATUS_TOKEN_HASH is not configured; run 'amanu serve --hash-token <token>' first")
	}
	secret, err := config.PersistStatusTokenSecret(filepath.Join(a.cfg.WorkDir, ".status-jwt-secret"))
	if err != nil {
		return nil, fmt.Errorf("persist status JWT secret: %w", err)
	}
	broadcaster := httpapi.NewBroadcaster()
	srv := httpapi.New(a.store, index, broadcaster, a.cfg.StatusTokenHash, []byte(secret))
	a.driver.OnTransition(func(job *models.Job, stage models.Stage, status models.StageStatus) {
		broadcaster.Broadcast(job.ID, "stage_transition", map[string]any{
			"job_id": job.ID,
			"stage":  string(stage),
			"status": string(status),
		})
	})
	return srv, nil
}
