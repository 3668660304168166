// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package patterns

import "regexp"

// rawPattern is the uncompiled form used to build the catalog. Declaration
// order within a risk tier is significant: among matches of equal risk,
// the first declared wins when a single representative reason is needed.
type rawPattern struct {
	id       string
	category Category
	risk     Risk
	reason   string
	windows  bool
	re       string
}

// defaultCatalog is the canonical set of dangerous-pattern entries, grouped
// by category. Entries within a category are not sorted by risk (a Critical
// entry may follow High or Moderate ones); when several entries match, they
// are reported in declaration order.
//
// Grounded on the bash-tool danger tables used across the example pack
// (rm -rf root/device/fork-bomb/privilege-escalation/pipe-to-shell shapes
// recur nearly verbatim across independent implementations), generalized
// into one process-wide catalog instead of being scattered across a tool
// executor.
var defaultCatalog = []rawPattern{
	// ---- filesystem destruction ----
	{"rm_rf_root", CategoryFilesystemDestruction, RiskCritical,
		"recursively force-removes the filesystem root", false,
		`^\s*rm\s+(-\w*\s+)*-[rR]\w*f\w*\s+/\s*($|[;&|])`},
	{"rm_rf_root_alt_order", CategoryFilesystemDestruction, RiskCritical,
		"recursively force-removes the filesystem root (flags in -fr order)", false,
		`^\s*rm\s+(-\w*\s+)*-f\w*[rR]\w*\s+/\s*($|[;&|])`},
	{"rm_rf_root_wildcard", CategoryFilesystemDestruction, RiskCritical,
		"recursively force-removes everything under the filesystem root", false,
		`^\s*rm\s+(-\w*\s+)*-[rRf]{2,}\s+/\*`},
	{"rm_rf_home", CategoryFilesystemDestruction, RiskCritical,
		"recursively force-removes the user's home directory", false,
		`^\s*rm\s+(-\w*\s+)*-[rRf]{2,}\s+~\s*($|[/;&|])`},
	{"rm_rf_system_path", CategoryFilesystemDestruction, RiskCritical,
		"recursively force-removes a core system directory", false,
		`^\s*rm\s+(-\w*\s+)*-[rRf]{2,}\s+/(bin|boot|dev|etc|lib|lib64|proc|root|sbin|sys|usr|var)(/|\s|$)`},
	{"rm_rf_no_age_filter", CategoryFilesystemDestruction, RiskHigh,
		"recursively force-removes a path with no age or name filter", false,
		`^\s*rm\s+(-\w*\s+)*-[rRf]{2,}\s+\S`},
	{"rm_bare_recursive", CategoryFilesystemDestruction, RiskModerate,
		"recursively removes a path without force", false,
		`^\s*rm\s+(-\w*\s+)*-[rR]\b`},
	{"find_delete", CategoryFilesystemDestruction, RiskHigh,
		"find with -delete can remove large trees unexpectedly", false,
		// Engine.Match downgrades this to RiskModerate when the command
		// also carries an age filter (-mtime/-mmin/-atime/-ctime), since
		// RE2 can't express that distinction in the regex itself.
		`\bfind\b.*-delete\b`},
	{"find_exec_rm", CategoryFilesystemDestruction, RiskHigh,
		"find piping matches into an executed command", false,
		`\bfind\b.*-exec\b`},
	{"xargs_rm", CategoryFilesystemDestruction, RiskHigh,
		"xargs fan-out into rm can mass-delete", false,
		`\bxargs\b.*\brm\b`},
	{"truncate_zero", CategoryFilesystemDestruction, RiskHigh,
		"truncates a file to zero length, discarding contents", false,
		`\btruncate\s+(-s|--size)\s*0\b`},
	{"redirect_overwrite_device", CategoryFilesystemDestruction, RiskCritical,
		"redirects output directly onto a block device", false,
		`>\s*/dev/(sd|nvme|hd|disk)\w*`},

	// ---- disk operations ----
	{"dd_to_device", CategoryDiskOperations, RiskCritical,
		"dd writing directly to a block device can overwrite a disk", false,
		`\bdd\b[^|]*\bof=/dev/`},
	{"mkfs_any", CategoryDiskOperations, RiskCritical,
		"formats a filesystem, destroying existing data", false,
		`^\s*mkfs(\.\w+)?\b`},
	{"fdisk_parted", CategoryDiskOperations, RiskCritical,
		"modifies disk partition tables", false,
		`^\s*(fdisk|parted|gdisk|sgdisk)\b`},
	{"wipefs", CategoryDiskOperations, RiskCritical,
		"erases filesystem signatures from a device", false,
		`^\s*wipefs\b`},

	// ---- fork bombs ----
	{"classic_fork_bomb", CategoryForkBomb, RiskCritical,
		"classic shell fork bomb that exhausts process table and memory", false,
		`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`},
	{"perl_fork_bomb", CategoryForkBomb, RiskCritical,
		"perl fork bomb spawning processes in a loop", false,
		`perl\s+-e\s*['"]?\s*fork\s*while\s*fork`},
	{"bash_while_fork_bomb", CategoryForkBomb, RiskHigh,
		"unbounded background-process spawn loop", false,
		`while\s+(true|:)\s*;?\s*do\s+\S+\s*&\s*done`},

	// ---- system path mutation ----
	{"chmod_system_path", CategorySystemPathMutation, RiskCritical,
		"changes permissions on a core system directory", false,
		`^\s*chmod\s+.*\s+/(etc|usr|var|boot|bin|sbin|lib)(/|\s|$)`},
	{"chown_system_path", CategorySystemPathMutation, RiskCritical,
		"changes ownership of a core system directory", false,
		`^\s*chown\s+.*\s+/(etc|usr|var|boot|bin|sbin|lib)(/|\s|$)`},
	{"chmod_world_writable", CategorySystemPathMutation, RiskHigh,
		"makes a path world-writable", false,
		`^\s*chmod\s+(-R\s+)?0?777\b`},
	{"chmod_recursive", CategorySystemPathMutation, RiskModerate,
		"recursively changes permissions", false,
		`^\s*chmod\s+-R\b`},
	{"chown_recursive", CategorySystemPathMutation, RiskModerate,
		"recursively changes ownership", false,
		`^\s*chown\s+-R\b`},

	// ---- privilege escalation ----
	{"sudo_invocation", CategoryPrivilegeEscalation, RiskHigh,
		"escalates privileges via sudo", false,
		`^\s*sudo\b`},
	{"su_invocation", CategoryPrivilegeEscalation, RiskHigh,
		"switches user, typically to root", false,
		`^\s*su(\s+-)?\s*(\w+)?\s*$`},
	{"doas_invocation", CategoryPrivilegeEscalation, RiskHigh,
		"escalates privileges via doas (OpenBSD sudo alternative)", false,
		`^\s*doas\b`},
	{"pkexec_invocation", CategoryPrivilegeEscalation, RiskHigh,
		"escalates privileges via polkit pkexec", false,
		`^\s*pkexec\b`},
	{"setuid_bit", CategoryPrivilegeEscalation, RiskHigh,
		"sets the setuid bit, enabling privilege escalation on execution", false,
		`^\s*chmod\s+.*[+]s\b`},

	// ---- pipe-to-shell from network ----
	{"curl_pipe_shell", CategoryPipeToShell, RiskCritical,
		"pipes a remote download directly into a shell interpreter", false,
		`\bcurl\b[^|]*\|\s*(sudo\s+)?(sh|bash|zsh|ksh)\b`},
	{"wget_pipe_shell", CategoryPipeToShell, RiskCritical,
		"pipes a remote download directly into a shell interpreter", false,
		`\bwget\b[^|]*-O\s*-[^|]*\|\s*(sudo\s+)?(sh|bash|zsh|ksh)\b`},
	{"curl_pipe_python", CategoryPipeToShell, RiskHigh,
		"pipes a remote download into an interpreter", false,
		`\b(curl|wget)\b[^|]*\|\s*(sudo\s+)?python\d?\b`},

	// ---- reverse shells ----
	{"bash_dev_tcp_reverse_shell", CategoryReverseShell, RiskCritical,
		"bash /dev/tcp reverse shell", false,
		`/dev/tcp/[\w.\-]+/\d+`},
	{"nc_reverse_shell", CategoryReverseShell, RiskCritical,
		"netcat reverse shell piping a shell to a remote listener", false,
		`\bnc\b[^|&]*-e\s*/bin/(sh|bash)`},
	{"python_reverse_shell", CategoryReverseShell, RiskCritical,
		"python one-liner reverse shell via socket and dup2", false,
		`python\d?\s+-c\s*['"].*socket.*dup2`},
	{"perl_reverse_shell", CategoryReverseShell, RiskCritical,
		"perl one-liner reverse shell via socket", false,
		`perl\s+-e\s*['"].*socket.*exec`},

	// ---- package / service manipulation ----
	{"systemctl_disable_security", CategoryPackageManipulation, RiskHigh,
		"disables a system service, potentially a security control", false,
		`^\s*systemctl\s+(disable|stop|mask)\s+(firewalld|ufw|apparmor|selinux)\b`},
	{"apt_purge", CategoryPackageManipulation, RiskModerate,
		"purges a package and its configuration", false,
		`^\s*(apt|apt-get)\s+purge\b`},
	{"brew_uninstall_force", CategoryPackageManipulation, RiskModerate,
		"force-uninstalls a package ignoring dependents", false,
		`^\s*brew\s+uninstall\s+.*--force\b`},
	{"docker_system_prune_all", CategoryPackageManipulation, RiskHigh,
		"removes all unused docker data including volumes", false,
		`^\s*docker\s+system\s+prune\s+(-a|--all)\b`},
	{"kubectl_delete_namespace", CategoryPackageManipulation, RiskCritical,
		"deletes an entire Kubernetes namespace and everything in it", false,
		`^\s*kubectl\s+delete\s+(namespace|namespaces|ns)\b`},
	{"git_push_force", CategoryPackageManipulation, RiskHigh,
		"force-pushes, potentially overwriting remote history", false,
		`^\s*git\s+push\b.*(--force\b|(^|\s)-f(\s|$))`},
	{"git_clean_force", CategoryPackageManipulation, RiskModerate,
		"force-removes untracked files and directories", false,
		`^\s*git\s+clean\s+-[a-z]*f[a-z]*d?\b`},

	// ---- Windows-destructive parallel catalog ----
	{"win_rd_system", CategoryWindowsDestructive, RiskCritical,
		"recursively removes a Windows system directory", true,
		`(?i)^\s*r(d|md)\s+(/s\s+/q\s+)?[a-z]:\\(windows|program files|programdata)\b`},
	{"win_format_drive", CategoryWindowsDestructive, RiskCritical,
		"formats a Windows drive, destroying all data on it", true,
		`(?i)^\s*format\s+[a-z]:`},
	{"win_del_wildcard_system", CategoryWindowsDestructive, RiskCritical,
		"wildcard-deletes files from a Windows system directory", true,
		`(?i)^\s*del\s+(/s\s+/q\s+)?[a-z]:\\(windows|program files)\\.*\*`},
	{"win_diskpart_clean", CategoryWindowsDestructive, RiskCritical,
		"diskpart clean wipes a disk's partition table", true,
		`(?i)\bdiskpart\b`},
	{"win_remove_item_recurse_system", CategoryWindowsDestructive, RiskCritical,
		"PowerShell recursive delete of a system path", true,
		`(?i)remove-item\s+.*-recurse.*[a-z]:\\(windows|program files)\b`},
	{"win_stop_service_security", CategoryWindowsDestructive, RiskHigh,
		"stops a Windows security-relevant service", true,
		`(?i)\b(stop-service|sc\s+stop)\s+(windefend|mpssvc)\b`},
	{"win_reg_delete_hklm", CategoryWindowsDestructive, RiskCritical,
		"deletes a registry key under HKEY_LOCAL_MACHINE", true,
		`(?i)\breg\s+delete\s+hklm\b`},
}

func compilePatterns(raw []rawPattern) []*Pattern {
	out := make([]*Pattern, 0, len(raw))
	for _, p := range raw {
		compiled := regexp.MustCompile(p.re)
		out = append(out, &Pattern{
			ID:       p.id,
			Category: p.category,
			Risk:     p.risk,
			Reason:   p.reason,
			Windows:  p.windows,
			compiled: compiled,
		})
	}
	return out
}
