package validate

// reservedUsernames is the single source of truth for system and service
// accounts that no wrapper-driven user_add/user_modify operation may ever
// create, rename into, or collide with. It mirrors the account names a
// typical Linux distribution's /etc/passwd ships with plus common
// service-package conventions.
var reservedUsernames = buildSet(
	"root", "daemon", "bin", "sys", "sync", "games", "man", "lp", "mail",
	"news", "uucp", "proxy", "www-data", "backup", "list", "irc", "gnats",
	"nobody", "systemd-network", "systemd-resolve", "systemd-timesync",
	"messagebus", "syslog", "_apt", "tss", "uuidd", "tcpdump", "landscape",
	"pollinate", "sshd", "avahi-autoipd", "avahi", "dnsmasq", "usbmux",
	"rtkit", "cups-pk-helper", "speech-dispatcher", "saned", "colord",
	"geoclue", "pulse", "gdm", "gnome-initial-setup", "sssd", "chrony",
	"polkitd", "ftp", "apache", "nginx", "mysql", "postgres", "redis",
	"mongodb", "rabbitmq", "memcached", "elasticsearch", "docker",
	"kubernetes", "jenkins", "gitlab-runner", "prometheus", "grafana",
	"zabbix", "nagios", "icinga", "haproxy", "varnish", "squid", "bind",
	"named", "dhcpd", "ntp", "ntpd", "chronyd", "rpc", "rpcuser", "nfsnobody",
	"statd", "ldap", "slapd", "openldap", "radiusd", "freeradius", "postfix",
	"dovecot", "exim", "exim4", "sendmail", "clamav", "amavis", "spamd",
	"fail2ban", "logrotate", "cron", "at", "anacron", "operator", "adm",
	"disk", "wheel", "lock", "games", "utmp", "video", "audio", "cdrom",
	"floppy", "tape", "dialout", "plugdev", "netdev", "bluetooth", "lxd",
	"microk8s", "snap_daemon", "sudo", "shadow", "staff", "users", "nogroup",
	"ssh", "ssl-cert", "certbot", "letsencrypt", "monit", "supervisor",
	"telegraf", "filebeat", "metricbeat", "packetbeat", "auditbeat",
	"kibana", "logstash", "consul", "vault", "nomad", "etcd", "zookeeper",
	"kafka", "cassandra", "influxdb", "couchdb", "neo4j", "solr",
)

// reservedGroups is the single source of truth for groups that no
// wrapper-driven group_add/group_modify operation may ever create or
// rename into -- principally groups that grant or imply privilege
// escalation.
var reservedGroups = buildSet(
	"root", "sudo", "wheel", "docker", "shadow", "lxd", "adm", "disk",
	"kmem", "mem", "tty", "dialout", "fax", "voice", "cdrom", "floppy",
	"tape", "video", "audio", "dip", "plugdev", "staff", "games", "users",
	"nogroup", "systemd-journal", "systemd-network", "systemd-resolve",
	"ssl-cert", "crontab", "netdev", "bluetooth", "microk8s", "kvm",
	"libvirt", "input", "render", "ssh",
)

func buildSet(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}
