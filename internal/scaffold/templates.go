package scaffold

// staticTemplates are checklist files that do not depend on repository
// content and are written verbatim instead of being generated.
var staticTemplates = map[string]string{
	"SECURITY.md": `# Security Policy

## Reporting a Vulnerability

Please do not open public issues for security problems. Email the
maintainers instead and include steps to reproduce. You will receive an
acknowledgement within 48 hours and a fix timeline within a week.

## Supported Versions

Only the latest release receives security fixes.
`,
	"CODE_OF_CONDUCT.md": `# Code of Conduct

Be respectful. Harassment, personal attacks, and discriminatory
language are not tolerated. Report unacceptable behavior to the
maintainers; reports are handled confidentially.
`,
	"CHANGELOG.md": `# Changelog

All notable changes to this project are documented in this file.
The format follows [Keep a Changelog](https://keepachangelog.com/).

## [Unreleased]

### Added
- Initial changelog.
`,
	".github/PULL_REQUEST_TEMPLATE.md": `## Summary

<!-- What does this change do and why? -->

## Changes

-

## Testing

<!-- How was this verified? -->

## Checklist

- [ ] Tests added or updated
- [ ] Documentation updated
`,
}
