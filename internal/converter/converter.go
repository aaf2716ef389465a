package converter

import (
	"cicdcopilot/pkg/domain"
	"errors"
	"fmt"
	"unicode/utf8"
)

// FallbackTemplate is returned by Convert when generation fails. It does not
// depend on the input.
const FallbackTemplate = `pipeline {
    agent any
    
    stages {
        stage('Checkout') {
            steps {
                echo 'Checking out code'
                // checkout scm
            }
        }
        
        stage('Build') {
            steps {
                echo 'Building application'
                // Build commands go here
            }
        }
        
        stage('Test') {
            steps {
                echo 'Running tests'
                // Test commands go here
            }
        }
        
        stage('Deploy') {
            steps {
                echo 'Deploying application'
                // Deployment commands go here
            }
        }
    }
    
    post {
        success {
            echo 'Pipeline completed successfully!'
        }
        failure {
            echo 'Pipeline failed!'
        }
    }
}
`

// ErrMalformedInput is returned by Generate for text that is not valid UTF-8.
var ErrMalformedInput = errors.New("converter: procedure text is not valid UTF-8")

// Outcome names the path Convert took to produce a script.
type Outcome string

// Conversion outcomes reported to observers.
const (
	OutcomeGenerated Outcome = "generated"
	OutcomeOverride  Outcome = "override"
	OutcomeFallback  Outcome = "fallback"
)

// Option configures a Converter.
type Option func(*Converter)

// WithObserver registers a callback invoked once per Convert call. The
// failure argument is nil unless the outcome is OutcomeFallback.
func WithObserver(fn func(outcome Outcome, failure error)) Option {
	return func(c *Converter) {
		c.observe = fn
	}
}

// Converter applies the override rule in front of script generation. The
// zero value is ready to use.
type Converter struct {
	observe  func(Outcome, error)
	generate func(string) (string, error)
}

// New constructs a Converter.
func New(opts ...Option) *Converter {
	c := &Converter{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultConverter = New()

// Convert returns the stored override from cfg when present, and otherwise a
// freshly generated script for rawText. It never fails.
func Convert(rawText string, cfg domain.PipelineConfig) string {
	return defaultConverter.Convert(rawText, cfg)
}

// Convert implements the package-level Convert for this converter.
func (c *Converter) Convert(rawText string, cfg domain.PipelineConfig) string {
	if script, ok := cfg.GeneratedScript(); ok {
		c.report(OutcomeOverride, nil)
		return script
	}
	generate := Generate
	if c.generate != nil {
		generate = c.generate
	}
	script, err := safeGenerate(generate, rawText)
	if err != nil {
		c.report(OutcomeFallback, err)
		return FallbackTemplate
	}
	c.report(OutcomeGenerated, nil)
	return script
}

func (c *Converter) report(outcome Outcome, err error) {
	if c.observe != nil {
		c.observe(outcome, err)
	}
}

// Generate runs segmentation, classification, and emission without the
// override rule or the fallback, surfacing failures to the caller.
func Generate(rawText string) (string, error) {
	if !utf8.ValidString(rawText) {
		return "", ErrMalformedInput
	}
	return safeGenerate(func(text string) (string, error) {
		return Emit(BuildStages(text)), nil
	}, rawText)
}

func safeGenerate(fn func(string) (string, error), rawText string) (script string, err error) {
	defer func() {
		if r := recover(); r != nil {
			script = ""
			err = fmt.Errorf("converter: generation panicked: %v", r)
		}
	}()
	return fn(rawText)
}

// SetOverride returns a copy of cfg with script stored as the generated
// script. cfg itself is not modified.
func SetOverride(cfg domain.PipelineConfig, script string) domain.PipelineConfig {
	out := cfg.Clone()
	if out == nil {
		out = domain.PipelineConfig{}
	}
	out[domain.GeneratedScriptKey] = script
	return out
}

// ClearOverride returns a copy of cfg without a stored script.
func ClearOverride(cfg domain.PipelineConfig) domain.PipelineConfig {
	out := cfg.Clone()
	delete(out, domain.GeneratedScriptKey)
	return out
}
