// Package crawler defines the crawl variants and runs them: each variant plans
// its queries for a subject (risk-term clauses, director sub-searches, exchange
// site searches), and the Runner searches each query, writes its manifest and
// renders the listed URLs into the job's artifact tree.
package crawler
