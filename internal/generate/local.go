package generate

import (
	"fmt"
	"strings"

	"github.com/tinybackspace/backspace/model"
)

// localRules maps prompt keywords to conventional target files. The first
// matching rule wins; the final rule has no keywords and always matches.
var localRules = []struct {
	keywords []string
	paths    []string
}{
	{[]string{"error handling", "exception"}, []string{"main.py", "utils/error_handler.py"}},
	{[]string{"test"}, []string{"tests/test_main.py"}},
	{[]string{"logging", "log"}, []string{"utils/logger.py"}},
	{[]string{"api", "endpoint"}, []string{"api/endpoints.py"}},
	{[]string{"config", "setting"}, []string{"config/settings.py"}},
	{nil, []string{"README.md", "utils/helpers.py"}},
}

// LocalEdits deterministically maps a change request to at least one edit.
// It never fails: unknown prompts fall through to the catch-all rule.
func LocalEdits(prompt string) []model.FileEdit {
	lower := strings.ToLower(prompt)
	for _, rule := range localRules {
		if len(rule.keywords) > 0 && !containsAny(lower, rule.keywords) {
			continue
		}
		edits := make([]model.FileEdit, 0, len(rule.paths))
		for _, path := range rule.paths {
			edits = append(edits, model.FileEdit{
				Path:        path,
				Content:     localContent(path, prompt),
				Description: "Deterministic fallback modification for " + path,
			})
		}
		return edits
	}
	// Unreachable: the catch-all rule always matches.
	return nil
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func localContent(path, prompt string) string {
	header := fmt.Sprintf("Generated for request: %s", model.Truncate(prompt, 80))
	switch path {
	case "main.py":
		return fmt.Sprintf(`"""%s"""

import sys

from utils.error_handler import ErrorHandler


def main() -> int:
    handler = ErrorHandler()
    try:
        run()
    except Exception as exc:
        handler.handle(exc)
        return 1
    return 0


def run() -> None:
    """Application entry point."""


if __name__ == "__main__":
    sys.exit(main())
`, header)
	case "utils/error_handler.py":
		return fmt.Sprintf(`"""%s"""

import logging

logger = logging.getLogger(__name__)


class ErrorHandler:
    """Central handler for uncaught application errors."""

    def handle(self, exc: Exception) -> None:
        logger.exception("unhandled error: %%s", exc)
`, header)
	case "tests/test_main.py":
		return fmt.Sprintf(`"""%s"""

import unittest


class TestMain(unittest.TestCase):
    def test_placeholder(self):
        self.assertTrue(True)


if __name__ == "__main__":
    unittest.main()
`, header)
	case "utils/logger.py":
		return fmt.Sprintf(`"""%s"""

import logging


def get_logger(name: str) -> logging.Logger:
    logger = logging.getLogger(name)
    if not logger.handlers:
        handler = logging.StreamHandler()
        handler.setFormatter(
            logging.Formatter("%%(asctime)s %%(levelname)s %%(name)s: %%(message)s")
        )
        logger.addHandler(handler)
        logger.setLevel(logging.INFO)
    return logger
`, header)
	case "api/endpoints.py":
		return fmt.Sprintf(`"""%s"""


def register_routes(app):
    """Attach API routes to the application."""

    @app.get("/health")
    def health():
        return {"status": "healthy"}
`, header)
	case "config/settings.py":
		return fmt.Sprintf(`"""%s"""

import os
from dataclasses import dataclass


@dataclass
class Settings:
    debug: bool = os.environ.get("DEBUG", "") == "1"
    log_level: str = os.environ.get("LOG_LEVEL", "INFO")


settings = Settings()
`, header)
	case "README.md":
		return fmt.Sprintf(`# Changes

%s

- Applied automated modification based on the request above.
`, model.Truncate(prompt, 200))
	case "utils/helpers.py":
		return fmt.Sprintf(`"""%s"""


def chunked(items, size):
    """Yield successive size-length chunks from items."""
    for i in range(0, len(items), size):
        yield items[i : i + size]
`, header)
	}
	return header + "\n"
}
